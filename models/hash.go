package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HashOrder produces the canonical digest of an order's logical content.
// The digest is stable across the ordering of object keys and of the items
// list, so the client, the placement commitment and the confirmation check
// all compute the same value. Output is always 64 lowercase hex characters.
func HashOrder(input *OrderInput) (string, error) {
	normalized := *input
	normalized.Items = make([]Item, len(input.Items))
	copy(normalized.Items, input.Items)
	sort.Slice(normalized.Items, func(a, b int) bool {
		return normalized.Items[a].ItemID() < normalized.Items[b].ItemID()
	})

	raw, err := json.Marshal(&normalized)
	if err != nil {
		return "", err
	}

	// Decode back into a generic value so key order is ours to define.
	// UseNumber keeps integers textually exact instead of via float64.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := stableStringify(&sb, value); err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:]), nil
}

// stableStringify renders value as canonical JSON: object keys in ascending
// lexicographic order, list elements in their given order, scalars as their
// JSON literals.
func stableStringify(sb *strings.Builder, value interface{}) error {
	switch v := value.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if v {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case json.Number:
		sb.WriteString(v.String())
	case string:
		if err := writeJSONString(sb, v); err != nil {
			return err
		}
	case []interface{}:
		sb.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := stableStringify(sb, elem); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeJSONString(sb, k); err != nil {
				return err
			}
			sb.WriteByte(':')
			if err := stableStringify(sb, v[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value type %T", value)
	}
	return nil
}

// writeJSONString renders s as a plain JSON string literal. json.Marshal is
// not usable here: it HTML-escapes &, < and > to & etc., which would
// change the canonical form for any payload containing those characters.
func writeJSONString(sb *strings.Builder, s string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	sb.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return nil
}
