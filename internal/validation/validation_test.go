package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRow_RequiredFails(t *testing.T) {
	row := map[string]any{"patientId": ""}
	result := ValidateRow(row, []ColumnRules{
		{Column: "patientId", Rules: []Rule{Required("patientId")}},
	})

	assert.False(t, result.IsValid)
	assert.Len(t, result.Failures, 1)
	assert.Equal(t, "patientId", result.Failures[0].Column)
}

func TestValidateRow_WarningDoesNotBlock(t *testing.T) {
	row := map[string]any{"note": "x"}
	result := ValidateRow(row, []ColumnRules{
		{Column: "note", Rules: []Rule{
			Custom("note-length", KindLength, SeverityWarning, "note is short", func(v any, _ map[string]any) bool {
				s, _ := v.(string)
				return len(s) > 10
			}),
		}},
	})

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Failures)
	assert.Len(t, result.Warnings, 1)
}

func TestValidateRow_CrossFieldRule(t *testing.T) {
	row := map[string]any{"startDate": "2024-01-01", "endDate": "2023-01-01"}
	result := ValidateRow(row, []ColumnRules{
		{Column: "endDate", Rules: []Rule{
			Custom("end-after-start", KindCustom, SeverityError, "endDate must be after startDate", func(v any, row map[string]any) bool {
				return v.(string) >= row["startDate"].(string)
			}),
		}},
	})

	assert.False(t, result.IsValid)
}

func TestNHIFormat(t *testing.T) {
	rule := NHIFormat("nhi")
	assert.True(t, rule.Predicate("ABC1234", nil))
	assert.False(t, rule.Predicate("abc1234", nil))
	assert.False(t, rule.Predicate("AB1234", nil))
}

func TestShouldStopBatch(t *testing.T) {
	assert.False(t, ShouldStopBatch(5, 10))
	assert.True(t, ShouldStopBatch(10, 10))
	assert.False(t, ShouldStopBatch(100, 0))
}
