package configutil

import (
	"errors"
	"sort"
	"strings"
)

// Schema lists the keys a vendor settings map may carry.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

func (s Schema) index() (required map[string]string, allowed map[string]bool) {
	required = make(map[string]string, len(s.Required))
	allowed = make(map[string]bool, len(s.Required)+len(s.Optional))
	for _, k := range s.Required {
		required[normalizeKey(k)] = k
		allowed[normalizeKey(k)] = true
	}
	for _, k := range s.Optional {
		allowed[normalizeKey(k)] = true
	}
	return required, allowed
}

// ValidateSettings checks a settings map against schema. Keys compare case, underscore
// and hyphen insensitively; a blank string counts as missing.
func ValidateSettings(input map[string]any, schema Schema) error {
	required, allowed := schema.index()
	var missing, unknown []string
	present := make(map[string]bool, len(input))

	for k, v := range input {
		nk := normalizeKey(k)
		if !allowed[nk] && !schema.AllowUnknown {
			unknown = append(unknown, k)
		}
		if isEmptyValue(v) {
			continue
		}
		present[nk] = true
	}
	for nk, name := range required {
		if !present[nk] {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
	}
	return errors.New(strings.Join(parts, "; "))
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}
