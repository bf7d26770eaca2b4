package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IdentityHash returns the deduplication key for a (topic, content, source)
// triple. Topic and source are trimmed and lower-cased, with inner whitespace
// runs in the topic collapsed; content is only trimmed.
func IdentityHash(topic, content, source string) string {
	return digest(normalizeTopic(topic), strings.TrimSpace(content), normalizeSource(source))
}

// IdentityHashWithMetadata extends IdentityHash with the canonical metadata.
// Empty metadata hashes identically to IdentityHash.
func IdentityHashWithMetadata(topic, content, source string, md Metadata) string {
	canon := md.canonical()
	if canon == "" {
		return IdentityHash(topic, content, source)
	}
	return digest(normalizeTopic(topic), strings.TrimSpace(content), normalizeSource(source), canon)
}

func digest(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeTopic(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}

func normalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}

func isHexHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
