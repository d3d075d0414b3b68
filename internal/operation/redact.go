package operation

import "strings"

// Redacted replaces secret values in audited payloads.
const Redacted = "[REDACTED]"

// Substrings that mark a key as secret wherever they appear.
var secretFragments = []string{
	"password", "passwd", "secret", "token", "apikey", "privatekey",
	"cardnumber", "authorization", "mnemonic", "seedphrase",
}

// Keys that are secret only as an exact match ("pin" must not hit "shipping").
var secretExact = map[string]bool{
	"cvv": true, "cvc": true, "pin": true, "ssn": true, "otp": true,
}

// IsSecretKey reports whether a payload key names sensitive material.
func IsSecretKey(key string) bool {
	k := normalizeKey(key)
	if secretExact[k] {
		return true
	}
	for _, frag := range secretFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

func normalizeKey(key string) string {
	k := strings.ToLower(key)
	k = strings.ReplaceAll(k, "_", "")
	k = strings.ReplaceAll(k, "-", "")
	return k
}

// Redact returns a deep copy of data with secret values masked.
// Nested maps and slices are walked; the input is never modified.
func Redact(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if IsSecretKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Redact(t)
	case []any:
		cp := make([]any, len(t))
		for i, item := range t {
			cp[i] = redactValue(item)
		}
		return cp
	default:
		return v
	}
}
