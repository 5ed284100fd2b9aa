// Package fingerprint computes the content hash used for deduplication.
//
// The hash is hex(sha256(kind ‖ 0x00 ‖ payload)). The kind prefix keeps a
// text entry and a binary entry with identical bytes apart. Text is
// normalized before hashing so that trailing whitespace differences do not
// produce distinct history rows; binary payloads are hashed as-is, and
// file references hash the referenced file's bytes, not its path.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

// NormalizeText strips trailing spaces, tabs and line breaks.
func NormalizeText(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}

func newHash(kind models.Kind) hash.Hash {
	h := sha256.New()
	h.Write([]byte{byte(kind), 0})
	return h
}

// Text normalizes s and returns the normalized text with its hash.
func Text(s string) (normalized string, sum string) {
	normalized = NormalizeText(s)
	h := newHash(models.KindText)
	io.WriteString(h, normalized)
	return normalized, hex.EncodeToString(h.Sum(nil))
}

// Bytes hashes an in-memory binary payload of the given kind.
func Bytes(kind models.Kind, b []byte) string {
	h := newHash(kind)
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// Reader hashes everything r yields.
func Reader(kind models.Kind, r io.Reader) (string, error) {
	h := newHash(kind)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("%w: hash stream: %w", common.ErrIO, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File streams the file at path through the hash.
func File(kind models.Kind, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", common.ErrIO, path, err)
	}
	defer f.Close()

	return Reader(kind, f)
}

// Compute returns the normalized content and hash for a history payload.
// For text the content itself is hashed; for blob kinds content is a path
// and the file behind it is hashed.
func Compute(kind models.Kind, content string) (normalized string, sum string, err error) {
	switch kind {
	case models.KindText:
		normalized, sum = Text(content)
		return normalized, sum, nil
	case models.KindImageRef, models.KindFileRef:
		sum, err = File(kind, content)
		return content, sum, err
	default:
		return "", "", fmt.Errorf("%w: unknown kind %d", common.ErrInvalidCommand, int(kind))
	}
}
