package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.seen.json     (seen-set snapshot, replaced atomically)
//   - <prefix>.targets.json  (target snapshot, replaced atomically)
//   - <prefix>.audit.jsonl   (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	seenPath    string
	targetsPath string
	auditFile   *os.File

	targets map[string]model.Target
}

type seenSnapshot struct {
	Version int         `json:"version"`
	Entries []SeenEntry `json:"entries"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:         log,
		seenPath:    prefix + ".seen.json",
		targetsPath: prefix + ".targets.json",
		auditFile:   af,
		targets:     map[string]model.Target{},
	}
	if err := readJSON(s.targetsPath, &s.targets); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// Never start from a damaged target file; SaveTarget would overwrite it.
		_ = af.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.targetsPath, err)
	}
	if s.targets == nil {
		s.targets = map[string]model.Target{}
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) LoadSeen(ctx context.Context) ([]SeenEntry, error) {
	_ = ctx
	var snap seenSnapshot
	err := readJSON(s.seenPath, &snap)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.seenPath, err)
	}
	return snap.Entries, nil
}

func (s *fileStore) SaveSeen(ctx context.Context, entries []SeenEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.seenPath, seenSnapshot{Version: 1, Entries: entries})
}

func (s *fileStore) LoadTargets(ctx context.Context) ([]model.Target, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Target, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	sortTargets(out)
	return out, nil
}

func (s *fileStore) SaveTarget(ctx context.Context, t model.Target) error {
	_ = ctx
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("target id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.targets[t.ID]
	s.targets[t.ID] = t
	if err := writeJSONAtomic(s.targetsPath, s.targets); err != nil {
		if had {
			s.targets[t.ID] = prev
		} else {
			delete(s.targets, t.ID)
		}
		return err
	}
	return nil
}

func (s *fileStore) DeleteTarget(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.targets[id]
	if !had {
		return nil
	}
	delete(s.targets, id)
	if err := writeJSONAtomic(s.targetsPath, s.targets); err != nil {
		s.targets[id] = prev
		return err
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func sortTargets(ts []model.Target) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}

func readJSON(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// writeJSONAtomic writes v to path via a temp file and rename, so readers
// never observe a half-written snapshot.
func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
