// Package phpval models the opaque attribute values WordPress stores as
// PHP-serialized text. Values are decoded into a tagged form (scalar, list
// or map) at the CSV/database boundary and re-encoded to the exact original
// text when passed through unchanged.
package phpval

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/elliotchance/phpserialize"
)

type Kind int

const (
	Scalar Kind = iota
	List
	Map
)

// Value is a decoded PHP value. When the value originated from serialized
// text, the original text is retained so re-encoding is byte-exact.
type Value struct {
	Kind   Kind
	Scalar string
	List   []Value
	Map    map[string]Value

	raw string
}

var serializedRe = regexp.MustCompile(`^(a|O|s|i|d|b):|^N;`)

// IsSerialized reports whether s looks like PHP-serialized text.
func IsSerialized(s string) bool {
	if len(s) < 2 {
		return false
	}
	if !serializedRe.MatchString(s) {
		return false
	}
	last := s[len(s)-1]
	return last == ';' || last == '}'
}

// DecodeCell turns a single CSV/database cell into a Value. Non-serialized
// text is treated as a scalar as-is.
func DecodeCell(s string) Value {
	if !IsSerialized(s) {
		return Value{Kind: Scalar, Scalar: s}
	}
	v, err := Decode(s)
	if err != nil {
		// Looked serialized but did not parse; keep the text untouched.
		return Value{Kind: Scalar, Scalar: s}
	}
	return v
}

// EncodeCell renders a Value back into single-cell text. Values decoded
// from serialized text round-trip byte-exact.
func EncodeCell(v Value) (string, error) {
	if v.raw != "" {
		return v.raw, nil
	}
	if v.Kind == Scalar {
		return v.Scalar, nil
	}
	out, err := phpserialize.Marshal(toInterface(v), nil)
	if err != nil {
		return "", fmt.Errorf("failed to serialize value: %w", err)
	}
	return string(out), nil
}

// Decode parses PHP-serialized text into a Value.
func Decode(s string) (Value, error) {
	if s == "" {
		return Value{}, fmt.Errorf("cannot decode an empty value")
	}
	data := []byte(s)

	switch s[0] {
	case 'a':
		if m, err := phpserialize.UnmarshalAssociativeArray(data); err == nil {
			return fromAssoc(m, s), nil
		}
		items, err := phpserialize.UnmarshalIndexedArray(data)
		if err != nil {
			return Value{}, fmt.Errorf("failed to parse serialized array: %w", err)
		}
		v := Value{Kind: List, raw: s}
		for _, item := range items {
			v.List = append(v.List, fromInterface(item))
		}
		return v, nil
	case 's':
		str, err := phpserialize.UnmarshalString(data)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: Scalar, Scalar: str, raw: s}, nil
	case 'i':
		n, err := phpserialize.UnmarshalInt(data)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: Scalar, Scalar: strconv.FormatInt(n, 10), raw: s}, nil
	case 'd':
		f, err := phpserialize.UnmarshalFloat(data)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: Scalar, Scalar: strconv.FormatFloat(f, 'g', -1, 64), raw: s}, nil
	case 'b':
		b, err := phpserialize.UnmarshalBool(data)
		if err != nil {
			return Value{}, err
		}
		if b {
			return Value{Kind: Scalar, Scalar: "1", raw: s}, nil
		}
		return Value{Kind: Scalar, Scalar: "0", raw: s}, nil
	case 'N':
		return Value{Kind: Scalar, Scalar: "", raw: s}, nil
	}

	return Value{}, fmt.Errorf("unsupported serialized value: %q", s[0])
}

// StringList decodes a serialized indexed array of strings, e.g. the
// active_plugins option.
func StringList(s string) ([]string, error) {
	items, err := phpserialize.UnmarshalIndexedArray([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to parse serialized list: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, scalarString(item))
	}
	return out, nil
}

// StringKeys decodes a serialized associative array and returns its keys,
// e.g. the active_sitewide_plugins option which maps plugin file to a
// timestamp.
func StringKeys(s string) ([]string, error) {
	m, err := phpserialize.UnmarshalAssociativeArray([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to parse serialized map: %w", err)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, scalarString(k))
	}
	sort.Strings(keys)
	return keys, nil
}

// EncodeStringMap serializes a map of string to bool, e.g. the
// capabilities user meta.
func EncodeStringMap(m map[string]bool) (string, error) {
	conv := make(map[interface{}]interface{}, len(m))
	for k, v := range m {
		conv[k] = v
	}
	out, err := phpserialize.Marshal(conv, nil)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeStringMap parses a serialized associative array into string-keyed
// truthiness, e.g. the capabilities user meta.
func DecodeStringMap(s string) (map[string]bool, error) {
	m, err := phpserialize.UnmarshalAssociativeArray([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to parse serialized map: %w", err)
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[scalarString(k)] = truthy(v)
	}
	return out, nil
}

func fromAssoc(m map[interface{}]interface{}, raw string) Value {
	v := Value{Kind: Map, Map: make(map[string]Value, len(m)), raw: raw}
	for k, item := range m {
		v.Map[scalarString(k)] = fromInterface(item)
	}
	return v
}

func fromInterface(item interface{}) Value {
	switch t := item.(type) {
	case map[interface{}]interface{}:
		return fromAssoc(t, "")
	case []interface{}:
		v := Value{Kind: List}
		for _, e := range t {
			v.List = append(v.List, fromInterface(e))
		}
		return v
	default:
		return Value{Kind: Scalar, Scalar: scalarString(item)}
	}
}

func toInterface(v Value) interface{} {
	switch v.Kind {
	case List:
		out := make([]interface{}, 0, len(v.List))
		for _, e := range v.List {
			out = append(out, toInterface(e))
		}
		return out
	case Map:
		out := make(map[interface{}]interface{}, len(v.Map))
		for k, e := range v.Map {
			out[k] = toInterface(e)
		}
		return out
	default:
		return v.Scalar
	}
}

func scalarString(item interface{}) string {
	switch t := item.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truthy(item interface{}) bool {
	switch t := item.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "0"
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return item != nil
	}
}
