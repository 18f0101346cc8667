package batch

import "fmt"

// Outcome is the per-id result of a fanned-out operation.
type Outcome[T any] struct {
	ID    string
	Value T
	Err   error
}

// ParseStringOrArray normalizes a tool argument that may be a single
// string or an array of strings into a slice.
func ParseStringOrArray(param any, paramName string) ([]string, error) {
	if param == nil {
		return nil, fmt.Errorf("%s is required", paramName)
	}

	var result []string

	switch v := param.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		result = []string{v}
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", paramName, i)
			}
			if str == "" {
				return nil, fmt.Errorf("%s[%d] cannot be empty", paramName, i)
			}
			result = append(result, str)
		}
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", paramName)
	}

	return result, nil
}

// Run applies fn to every id in order. Errors are recorded per id so one
// failing id does not abort the rest of the batch.
func Run[T any](ids []string, fn func(id string) (T, error)) []Outcome[T] {
	outcomes := make([]Outcome[T], 0, len(ids))
	for _, id := range ids {
		value, err := fn(id)
		outcomes = append(outcomes, Outcome[T]{ID: id, Value: value, Err: err})
	}
	return outcomes
}

// Failed counts the outcomes that carry an error.
func Failed[T any](outcomes []Outcome[T]) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
