package secrets

import (
	"encoding/json"
	"regexp"
)

var validKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// IsValidKey reports whether key can be used as an output or environment
// variable name.
func IsValidKey(key string) bool {
	return validKey.MatchString(key)
}

// IsJSONObject reports whether value is exactly one JSON object. Arrays,
// scalars, null and anything that fails to parse are not.
func IsJSONObject(value string) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(value), &obj); err != nil {
		return false
	}
	return obj != nil
}
