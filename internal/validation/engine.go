package validation

// ValidateRow runs every rule against its column, in columnRules order.
// Predicates may read any column of row (cross-field rules), not just the
// one they are attached to. Every rule on every column runs; there is no
// short-circuiting on the first failure.
func ValidateRow(row map[string]any, columnRules []ColumnRules) Result {
	var failures, warnings []Failure

	for _, cr := range columnRules {
		value := row[cr.Column]

		for _, rule := range cr.Rules {
			if rule.Predicate(value, row) {
				continue
			}

			f := Failure{Column: cr.Column, Rule: rule.Name, Message: rule.ErrorMessage}

			if rule.Severity == SeverityWarning {
				warnings = append(warnings, f)
			} else {
				failures = append(failures, f)
			}
		}
	}

	return Result{IsValid: len(failures) == 0, Failures: failures, Warnings: warnings}
}

// ShouldStopBatch reports whether a batch has accumulated enough errors to
// stop processing the rest of it.
func ShouldStopBatch(batchErrorCount, maxErrorsPerBatch int) bool {
	if maxErrorsPerBatch <= 0 {
		return false
	}

	return batchErrorCount >= maxErrorsPerBatch
}

// ShouldStopExtract reports whether an entire extract transformation has
// accumulated enough errors across all batches to abort the run.
func ShouldStopExtract(totalErrorCount, maxTotalErrors int) bool {
	if maxTotalErrors <= 0 {
		return false
	}

	return totalErrorCount >= maxTotalErrors
}
