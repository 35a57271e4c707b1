package services

import "strings"

// ResolveField walks a dot-separated path through a nested event payload,
// e.g. "candidate.skills" or "job.department". The second return value
// reports whether the full path exists: false means the field is absent,
// which is distinct from a field that is present with a nil value.
// Arrays resolve as whole values; there is no index syntax.
func ResolveField(payload map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	var current interface{} = payload
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		value, ok := m[segment]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}
