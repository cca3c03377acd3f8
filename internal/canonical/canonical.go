// Package canonical computes deterministic content hashes for JSON documents.
//
// Hashing is a pure function of document content: object keys are recursively
// sorted, configured volatile fields are stripped, and the result is encoded
// compactly before being digested with SHA-256. Array element order is
// preserved because arrays may encode meaningful sequence (e.g. sections).
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultVolatileFields are the field names stripped before hashing when no
// explicit set is configured. Extraction timestamps change on every conversion
// run without the content itself changing.
var DefaultVolatileFields = []string{"extracted_date"}

// Error reports a document that could not be canonicalized. It is a
// per-document failure and is never retried.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("canonicalization failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCanonicalizationError reports whether err is a canonicalization failure.
func IsCanonicalizationError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Hasher canonicalizes JSON document content and produces stable digests.
type Hasher struct {
	volatile map[string]struct{}
}

// NewHasher creates a Hasher that strips the given volatile fields before
// hashing. A nil slice selects DefaultVolatileFields; an empty slice disables
// stripping entirely.
func NewHasher(volatileFields []string) *Hasher {
	if volatileFields == nil {
		volatileFields = DefaultVolatileFields
	}
	volatile := make(map[string]struct{}, len(volatileFields))
	for _, f := range volatileFields {
		volatile[f] = struct{}{}
	}
	return &Hasher{volatile: volatile}
}

// Hash returns the hex SHA-256 digest of the canonical form of raw.
func (h *Hasher) Hash(raw []byte) (string, error) {
	canonical, err := h.Canonicalize(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize returns the canonical encoding of raw: volatile fields removed,
// object keys sorted at every depth, compact separators.
func (h *Hasher) Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	// Preserve numeric literals exactly; a float64 round-trip would alter
	// large integers and change the digest.
	dec.UseNumber()

	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, &Error{Err: err}
	}
	if err := ensureEOF(dec); err != nil {
		return nil, &Error{Err: err}
	}

	cleaned := h.stripVolatile(data)

	var sb strings.Builder
	if err := encodeCanonical(&sb, cleaned); err != nil {
		return nil, &Error{Err: err}
	}
	return []byte(sb.String()), nil
}

// ensureEOF rejects trailing garbage after the first JSON value.
func ensureEOF(dec *json.Decoder) error {
	if dec.More() {
		return fmt.Errorf("unexpected trailing data after JSON value")
	}
	return nil
}

// stripVolatile recursively removes volatile keys from JSON-like values.
func (h *Hasher) stripVolatile(data any) any {
	switch v := data.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(v))
		for key, value := range v {
			if _, volatile := h.volatile[key]; volatile {
				continue
			}
			cleaned[key] = h.stripVolatile(value)
		}
		return cleaned
	case []any:
		cleaned := make([]any, len(v))
		for i, item := range v {
			cleaned[i] = h.stripVolatile(item)
		}
		return cleaned
	default:
		return v
	}
}

// encodeCanonical writes value as compact JSON with sorted object keys.
func encodeCanonical(sb *strings.Builder, value any) error {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encoded, err := marshalScalar(key)
			if err != nil {
				return err
			}
			sb.Write(encoded)
			sb.WriteByte(':')
			if err := encodeCanonical(sb, v[key]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
		return nil
	case []any:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encodeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
		return nil
	case json.Number:
		sb.WriteString(v.String())
		return nil
	default:
		encoded, err := marshalScalar(v)
		if err != nil {
			return err
		}
		sb.Write(encoded)
		return nil
	}
}

// marshalScalar encodes a scalar without HTML escaping. json.Marshal escapes
// ampersands and angle brackets to \u0026-style sequences, which changes the
// canonical bytes recorded hashes were computed from.
func marshalScalar(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encode appends a newline.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
