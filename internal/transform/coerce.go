package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	errNotNumeric   = errors.New("value is not numeric")
	errNotBoolean   = errors.New("value is not a recognized boolean")
	errNotDate      = errors.New("value is not a valid date")
	errNotTimestamp = errors.New("value is not a valid timestamp")
	errNotUUID      = errors.New("value is not a valid UUID")
	errNotJSON      = errors.New("value is not valid JSON")
)

var (
	truthy = map[string]bool{"true": true, "1": true, "yes": true, "y": true, "t": true, "on": true}
	falsy  = map[string]bool{"false": true, "0": true, "no": true, "n": true, "f": true, "off": true}
)

func coerceText(value string) (any, error) {
	return value, nil
}

func coerceInteger(value string) (any, error) {
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i, nil
	}

	// Numeric-looking but fractional input floor-truncates rather than
	// failing outright (vendor extracts occasionally emit "3.0" for an
	// integer column).
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errNotNumeric
		}

		return int64(math.Floor(f)), nil
	}

	return nil, errNotNumeric
}

func coerceDecimal(value string) (any, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errNotNumeric
	}

	return f, nil
}

func coerceBoolean(value string) (any, error) {
	v := strings.ToLower(strings.TrimSpace(value))

	if truthy[v] {
		return true, nil
	}

	if falsy[v] {
		return false, nil
	}

	return nil, errNotBoolean
}

func coerceDate(value, layout string) (any, error) {
	t, err := time.Parse(layout, value)
	if err != nil {
		// Fall back to a small set of permissive layouts before failing —
		// vendor extracts are not always consistent about date format
		// even within one column.
		for _, alt := range []string{"2006-01-02", "2006/01/02", "01/02/2006", time.RFC3339} {
			if t2, err2 := time.Parse(alt, value); err2 == nil {
				return t2, nil
			}
		}

		return nil, fmt.Errorf("%w: %s", errNotDate, value)
	}

	return t, nil
}

func coerceTimestamp(value, layout string) (any, error) {
	t, err := time.Parse(layout, value)
	if err != nil {
		for _, alt := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if t2, err2 := time.Parse(alt, value); err2 == nil {
				return t2, nil
			}
		}

		return nil, fmt.Errorf("%w: %s", errNotTimestamp, value)
	}

	return t, nil
}

func coerceUUID(value string) (any, error) {
	u, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errNotUUID, value)
	}

	return u.String(), nil
}

func coerceJSON(value string) (any, error) {
	var v any

	if err := json.Unmarshal([]byte(value), &v); err != nil {
		return nil, fmt.Errorf("%w: %s", errNotJSON, value)
	}

	return v, nil
}
