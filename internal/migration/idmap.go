package migration

import (
	"encoding/json"
	"fmt"
	l "log"
	"os"
	"strconv"
	"strings"
)

// IDMap relates user IDs on the source installation to the IDs the same
// accounts ended up with on the target.
type IDMap map[int64]int64

// LoadIDMap reads a map file written by a user import. Keys are decimal
// strings in the file; surrounding whitespace is tolerated. Pairs whose
// key or value is not numeric are dropped with a warning, the valid rest
// proceeds.
func LoadIDMap(path string) (IDMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read map file %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("map file %s is not valid JSON: %w", path, err)
	}

	m := make(IDMap, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			l.Printf("WARNING: map file %s has a non-numeric key %q, dropping the pair", path, k)
			continue
		}
		target, ok := numericID(v)
		if !ok {
			l.Printf("WARNING: map file %s has a non-numeric value for key %q, dropping the pair", path, k)
			continue
		}
		m[id] = target
	}
	return m, nil
}

func numericID(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Save writes the map as JSON with string keys, the shape LoadIDMap reads
// back.
func (m IDMap) Save(path string) error {
	raw := make(map[string]int64, len(m))
	for k, v := range m {
		raw[strconv.FormatInt(k, 10)] = v
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write map file %s: %w", path, err)
	}
	return nil
}
