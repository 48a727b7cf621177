package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultPrecision is the fixed number of decimal digits floats are rounded
// to before hashing. Two inputs that differ only below this precision hash
// identically.
const DefaultPrecision = 10

// Options controls semantic normalization before hashing.
type Options struct {
	// FoldCase applies Unicode case folding to every string value. Map keys
	// are always folded regardless of this setting.
	FoldCase bool
	// Precision is the decimal precision floats are rounded to. Zero means
	// DefaultPrecision.
	Precision int
}

var folder = cases.Fold()

// Canonical renders v as deterministic JSON: keys sorted and case-folded,
// floats rounded to a fixed precision, insignificant formatting removed.
// Two logically identical inputs produce byte-identical output regardless of
// key order or float noise in the source.
func Canonical(v any, opts Options) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal candidate: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode candidate: %w", err)
	}
	normalized, err := normalize(tree, opts)
	if err != nil {
		return nil, err
	}
	// encoding/json writes map[string]any keys in sorted order, which is the
	// ordering guarantee the canonical form relies on.
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical form: %w", err)
	}
	return out, nil
}

// ContentHash returns the hex sha256 content hash of the canonical form of v.
func ContentHash(v any, opts Options) (string, error) {
	canonical, err := Canonical(v, opts)
	if err != nil {
		return "", err
	}
	hasher := sha256.New()
	// Length prefix guards against ambiguity if callers ever hash
	// concatenated canonical payloads.
	var prefix [8]byte
	length := uint64(len(canonical))
	for i := 0; i < 8; i++ {
		prefix[i] = byte(length >> (56 - 8*i))
	}
	hasher.Write(prefix[:])
	hasher.Write(canonical)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func normalize(v any, opts Options) (any, error) {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for key, element := range value {
			normalized, err := normalize(element, opts)
			if err != nil {
				return nil, err
			}
			folded := folder.String(key)
			if _, dup := out[folded]; dup {
				return nil, fmt.Errorf("canonical form: keys %q collide after case folding", key)
			}
			out[folded] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(value))
		for i, element := range value {
			normalized, err := normalize(element, opts)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	case json.Number:
		return normalizeNumber(value, precision(opts)), nil
	case string:
		if opts.FoldCase {
			return folder.String(value), nil
		}
		return value, nil
	default:
		return value, nil
	}
}

func precision(opts Options) int {
	if opts.Precision > 0 {
		return opts.Precision
	}
	return DefaultPrecision
}

func normalizeNumber(num json.Number, digits int) json.Number {
	text := num.String()
	if !strings.ContainsAny(text, ".eE") {
		// Integer literals pass through untouched.
		return num
	}
	value, err := num.Float64()
	if err != nil {
		return num
	}
	rounded := strconv.FormatFloat(value, 'f', digits, 64)
	rounded = strings.TrimRight(rounded, "0")
	rounded = strings.TrimSuffix(rounded, ".")
	// Values below the precision collapse to zero regardless of sign.
	if rounded == "" || rounded == "-" || rounded == "-0" {
		rounded = "0"
	}
	return json.Number(rounded)
}
