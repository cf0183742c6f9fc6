package record

import (
	"fmt"
	"sort"
)

// Scalar is a state value. Only string, int64, float64 and bool are stored.
type Scalar interface{}

// State is the caller defined mapping stored in commit records
type State map[string]Scalar

// NormalizeScalar converts v into one of the storable scalar types
func NormalizeScalar(v interface{}) (Scalar, error) {
	switch s := v.(type) {
	case string, int64, float64, bool:
		return s, nil
	case int:
		return int64(s), nil
	case int32:
		return int64(s), nil
	case uint32:
		return int64(s), nil
	case float32:
		return float64(s), nil
	default:
		return nil, fmt.Errorf("unsupported state value type %T", v)
	}
}

// Clone returns a shallow copy of the state. A nil state clones to an empty one.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the state keys in sorted order
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
