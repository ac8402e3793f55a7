package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Required rejects a nil or empty-string value.
func Required(name string) Rule {
	return Rule{
		Name: name,
		Kind: KindRequired,
		Predicate: func(value any, _ map[string]any) bool {
			if value == nil {
				return false
			}

			if s, ok := value.(string); ok {
				return strings.TrimSpace(s) != ""
			}

			return true
		},
		ErrorMessage: fmt.Sprintf("%s is required", name),
		Severity:     SeverityError,
	}
}

// Pattern rejects string values that do not match re.
func Pattern(name, pattern string) Rule {
	re := regexp.MustCompile(pattern)

	return Rule{
		Name: name,
		Kind: KindFormat,
		Predicate: func(value any, _ map[string]any) bool {
			s, ok := value.(string)
			if !ok {
				return false
			}

			return re.MatchString(s)
		},
		ErrorMessage: fmt.Sprintf("%s does not match required format", name),
		Severity:     SeverityError,
	}
}

// Range rejects numeric values outside [min, max]. Accepts int, int64,
// float64 and float32 inputs; any other type fails the rule.
func Range(name string, minVal, maxVal float64) Rule {
	return Rule{
		Name: name,
		Kind: KindRange,
		Predicate: func(value any, _ map[string]any) bool {
			f, ok := asFloat(value)
			if !ok {
				return false
			}

			return f >= minVal && f <= maxVal
		},
		ErrorMessage: fmt.Sprintf("%s must be between %v and %v", name, minVal, maxVal),
		Severity:     SeverityError,
	}
}

// Enum rejects string values not present in allowed.
func Enum(name string, allowed []string) Rule {
	set := make(map[string]bool, len(allowed))
	for _, v := range allowed {
		set[v] = true
	}

	return Rule{
		Name: name,
		Kind: KindEnum,
		Predicate: func(value any, _ map[string]any) bool {
			s, ok := value.(string)
			if !ok {
				return false
			}

			return set[s]
		},
		ErrorMessage: fmt.Sprintf("%s must be one of %v", name, allowed),
		Severity:     SeverityError,
	}
}

// Length rejects string values shorter than minLen or longer than maxLen.
// A zero bound is treated as unbounded on that side.
func Length(name string, minLen, maxLen int) Rule {
	return Rule{
		Name: name,
		Kind: KindLength,
		Predicate: func(value any, _ map[string]any) bool {
			s, ok := value.(string)
			if !ok {
				return false
			}

			if minLen > 0 && len(s) < minLen {
				return false
			}

			if maxLen > 0 && len(s) > maxLen {
				return false
			}

			return true
		},
		ErrorMessage: fmt.Sprintf("%s length must be between %d and %d", name, minLen, maxLen),
		Severity:     SeverityError,
	}
}

// Custom wraps an arbitrary predicate as a named rule, for cases the
// library rules above don't cover (cross-field checks, reference lookups).
func Custom(name string, kind Kind, severity Severity, message string, predicate func(value any, row map[string]any) bool) Rule {
	return Rule{
		Name:         name,
		Kind:         kind,
		Predicate:    predicate,
		ErrorMessage: message,
		Severity:     severity,
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}
