package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "feedwatch.db")
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Logger{})
		if err != nil || st != nil {
			t.Fatalf("driver %q: expected (nil, nil), got (%v, %v)", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, driver)

			seen, err := st.LoadSeen(ctx)
			if err != nil || len(seen) != 0 {
				t.Fatalf("fresh LoadSeen = %v, %v", seen, err)
			}

			at := time.UnixMilli(1_700_000_000_000)
			if err := st.SaveSeen(ctx, []SeenEntry{{Fingerprint: "t1:a", SeenAt: at}, {Fingerprint: "t1:b", SeenAt: at}}); err != nil {
				t.Fatalf("SaveSeen: %v", err)
			}
			// A second save replaces the first.
			if err := st.SaveSeen(ctx, []SeenEntry{{Fingerprint: "t1:c", SeenAt: at}}); err != nil {
				t.Fatalf("SaveSeen: %v", err)
			}
			seen, err = st.LoadSeen(ctx)
			if err != nil {
				t.Fatalf("LoadSeen: %v", err)
			}
			if len(seen) != 1 || seen[0].Fingerprint != "t1:c" || !seen[0].SeenAt.Equal(at) {
				t.Fatalf("LoadSeen = %+v", seen)
			}

			tg := model.Target{
				ID:        "abc",
				URL:       "https://example.com/p/1",
				Label:     "post one",
				Active:    true,
				Tier:      model.TierActive,
				ItemCount: 3,
				CreatedAt: at,
			}
			if err := st.SaveTarget(ctx, tg); err != nil {
				t.Fatalf("SaveTarget: %v", err)
			}
			tg.Active = false
			tg.DormantAt = at.Add(time.Hour)
			tg.DormantReason = "no activity"
			if err := st.SaveTarget(ctx, tg); err != nil {
				t.Fatalf("SaveTarget update: %v", err)
			}
			got, err := st.LoadTargets(ctx)
			if err != nil {
				t.Fatalf("LoadTargets: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("expected 1 target, got %d", len(got))
			}
			if got[0].Active || got[0].DormantReason != "no activity" || got[0].ItemCount != 3 || !got[0].CreatedAt.Equal(at) {
				t.Fatalf("target not updated: %+v", got[0])
			}

			if err := st.DeleteTarget(ctx, "abc"); err != nil {
				t.Fatalf("DeleteTarget: %v", err)
			}
			got, _ = st.LoadTargets(ctx)
			if len(got) != 0 {
				t.Fatalf("expected no targets after delete, got %d", len(got))
			}

			if err := st.AppendAudit(ctx, AuditEntry{Actor: "cli", Action: "target.add", TargetID: "abc"}); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
		})
	}
}

func TestFileStoreCorruptSeen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "feedwatch")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := os.WriteFile(filepath.Join(dir, "feedwatch.seen.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = st.LoadSeen(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}
