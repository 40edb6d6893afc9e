// Package cache persists completed debates keyed by a content hash, with LRU
// eviction and policy-driven invalidation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// KeyInputs are the request facts that determine cache identity. Two
// requests with equal inputs hash to the same key.
type KeyInputs struct {
	Question           string         `json:"question"` // normalized before hashing
	Category           string         `json:"category"`
	ComplexityLevel    string         `json:"complexity_level"`
	Workdir            string         `json:"workdir"`
	ExpertReplicaPlan  map[string]int `json:"expert_replica_plan"`
	UseAnalyzer        bool           `json:"use_analyzer"`
	ProjectFingerprint string         `json:"project_fingerprint"`
}

// NormalizeQuestion lowercases and trims the question for key purposes.
func NormalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// Key hashes the inputs into the 32-byte content key, hex encoded. The JSON
// form is canonical: sorted keys, LF line endings, no insignificant
// whitespace, numbers rounded to three decimals.
func Key(in KeyInputs) (string, error) {
	in.Question = NormalizeQuestion(in.Question)
	canonical, err := CanonicalJSON(in)
	if err != nil {
		return "", fmt.Errorf("canonicalize cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON serializes v deterministically: an encode/decode round trip
// through any-typed values gives sorted object keys, and float values are
// rounded to three decimals before re-encoding.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var b strings.Builder
	if err := writeCanonical(&b, roundFloats(generic)); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// roundFloats rounds every numeric leaf to three decimals.
func roundFloats(v any) any {
	switch t := v.(type) {
	case float64:
		return math.Round(t*1000) / 1000
	case map[string]any:
		for k, val := range t {
			t[k] = roundFloats(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = roundFloats(val)
		}
		return t
	default:
		return v
	}
}

// writeCanonical emits JSON with sorted object keys and no whitespace.
func writeCanonical(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(keyJSON)
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return err
		}
		b.Write(raw)
		return nil
	}
}
