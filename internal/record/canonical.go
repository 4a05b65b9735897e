package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Marshal produces the canonical JSON encoding of v:
// keys sorted by UTF-16 code units, strings NFC-normalized, no HTML
// escaping, no insignificant whitespace.
//
// This is the only encoding the stores persist, so two payloads that are
// equal as values always produce identical bytes and identical digests.
// Strings must be valid UTF-8, and no two keys of an object may share an
// NFC form.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is not allowed in records")
	case String:
		return writeCanonicalString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case List:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		keys, err := normalizedKeys(val)
		if err != nil {
			return err
		}
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k.nfc); err != nil {
				return fmt.Errorf("key %q: %w", k.raw, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k.raw]); err != nil {
				return fmt.Errorf("%q: %w", k.raw, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported record value %T", v)
	}
	return nil
}

type objectKey struct {
	raw, nfc string
}

// normalizedKeys returns the keys of o ordered by their NFC form.
func normalizedKeys(o Object) ([]objectKey, error) {
	keys := make([]objectKey, 0, len(o))
	seen := make(map[string]string, len(o))
	for raw := range o {
		if !utf8.ValidString(raw) {
			return nil, fmt.Errorf("key %q: invalid UTF-8", raw)
		}
		nfc := norm.NFC.String(raw)
		if prev, ok := seen[nfc]; ok {
			return nil, fmt.Errorf("keys %q and %q collide after NFC normalization", prev, raw)
		}
		seen[nfc] = raw
		keys = append(keys, objectKey{raw: raw, nfc: nfc})
	}
	slices.SortFunc(keys, func(a, b objectKey) int { return compareUTF16(a.nfc, b.nfc) })
	return keys, nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("invalid UTF-8 in %q", s)
	}
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	// Encoder appends a newline.
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
