package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"feedwatch/internal/model"
)

// DefaultFingerprintFields are hashed when an item carries no platform id.
var DefaultFingerprintFields = []string{"author", "text"}

// Fingerprint derives the dedup identity of an item. A platform id gives
// "target:id"; otherwise the selected fields are hashed into "target:h:<hex>".
// Whitespace runs are collapsed so re-rendered text keeps its identity.
func Fingerprint(it model.Item, fields []string) string {
	if id := strings.TrimSpace(it.ItemID); id != "" {
		return it.TargetID + ":" + id
	}
	if len(fields) == 0 {
		fields = DefaultFingerprintFields
	}
	h := sha256.New()
	h.Write([]byte(it.TargetID))
	for _, f := range fields {
		h.Write([]byte{0x1f})
		h.Write([]byte(normalizeField(fieldValue(it, f))))
	}
	return it.TargetID + ":h:" + hex.EncodeToString(h.Sum(nil))
}

func fieldValue(it model.Item, field string) string {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "author":
		return it.Author
	case "text":
		return it.Text
	case "age":
		return it.AgeText
	case "image":
		return it.ImageURL
	case "permalink":
		return it.Permalink
	default:
		return ""
	}
}

func normalizeField(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
