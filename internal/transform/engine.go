package transform

import (
	"fmt"
	"strings"

	"github.com/nz-health/extract-loader/internal/extract"
	"github.com/nz-health/extract-loader/internal/validation"
)

// TransformRow coerces a raw row (keyed by source column) into a typed
// staging row (keyed by target column), applying each transformation's
// pre-processing, optional custom function, null handling and type
// coercion in order. A column that fails required/format checks during
// coercion is recorded in Failures and the row as a whole is unsuccessful;
// callers route unsuccessful rows to the rejection handler rather than
// staging.
func TransformRow(rawRow map[string]string, transformations []extract.ColumnTransformation, opts Options) Result {
	opts = opts.withDefaults()

	row := make(map[string]any, len(transformations))

	var (
		failures []validation.Failure
		errs     []error
	)

	for _, t := range transformations {
		value := rawRow[t.SourceColumn]

		if opts.TrimStrings {
			value = strings.TrimSpace(value)
		}

		if t.TransformFunc != nil {
			transformed, err := t.TransformFunc(value, rawRow)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: custom transform: %w", t.TargetColumn, err))

				continue
			}

			value = transformed
		}

		if value == "" {
			if t.Required && t.DefaultValue == nil {
				failures = append(failures, validation.Failure{
					Column:  t.TargetColumn,
					Rule:    "required",
					Message: fmt.Sprintf("%s is required", t.TargetColumn),
				})

				continue
			}

			switch {
			case t.DefaultValue != nil:
				value = *t.DefaultValue
			case opts.NullifyEmptyStrings:
				row[t.TargetColumn] = nil

				continue
			default:
				// Leave value as "" and fall through to coercion, which
				// handles empty text/JSON columns on its own terms.
			}
		}

		coerced, err := coerce(value, t.TargetType, opts)
		if err != nil {
			failures = append(failures, validation.Failure{
				Column:  t.TargetColumn,
				Rule:    "format",
				Message: fmt.Sprintf("%s: %v", t.TargetColumn, err),
			})

			continue
		}

		row[t.TargetColumn] = coerced
	}

	return Result{
		Success:  len(failures) == 0 && len(errs) == 0,
		Row:      row,
		Failures: failures,
		Errors:   errs,
	}
}

func coerce(value string, targetType extract.TargetType, opts Options) (any, error) {
	switch targetType {
	case extract.TargetText:
		return coerceText(value)
	case extract.TargetInteger:
		return coerceInteger(value)
	case extract.TargetDecimal:
		return coerceDecimal(value)
	case extract.TargetBoolean:
		return coerceBoolean(value)
	case extract.TargetDate:
		return coerceDate(value, opts.DateFormat)
	case extract.TargetTimestamp:
		return coerceTimestamp(value, opts.TimestampFormat)
	case extract.TargetUUID:
		return coerceUUID(value)
	case extract.TargetJSON:
		return coerceJSON(value)
	default:
		return coerceText(value)
	}
}
