package textutil

import (
	"strings"
	"unicode/utf8"
)

// Stripe rejects metadata beyond these sizes.
const (
	MaxMetadataKeys        = 50
	MaxMetadataKeyLength   = 40
	MaxMetadataValueLength = 500
)

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// NormalizeMetadata prepares a map for a payment provider: entries are trimmed,
// empty values and oversized keys are dropped, values are truncated on a rune
// boundary, and at most MaxMetadataKeys entries survive.
func NormalizeMetadata(values map[string]string) map[string]string {
	normalized := NormalizeStringMap(values)
	if normalized == nil {
		return nil
	}
	result := make(map[string]string, len(normalized))
	for key, value := range normalized {
		if value == "" || len(key) > MaxMetadataKeyLength {
			continue
		}
		if len(result) >= MaxMetadataKeys {
			break
		}
		result[key] = Truncate(value, MaxMetadataValueLength)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// Truncate cuts s to at most limit bytes without splitting a rune.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
