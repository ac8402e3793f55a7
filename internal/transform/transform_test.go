package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nz-health/extract-loader/internal/extract"
)

func patientTransformations() []extract.ColumnTransformation {
	return []extract.ColumnTransformation{
		{SourceColumn: "patient_id", TargetColumn: "patientId", TargetType: extract.TargetText, Required: true},
		{SourceColumn: "dob", TargetColumn: "dob", TargetType: extract.TargetDate, Required: true},
		{SourceColumn: "is_active", TargetColumn: "isActive", TargetType: extract.TargetBoolean},
	}
}

func TestTransformRow_Success(t *testing.T) {
	raw := map[string]string{
		"patient_id": "12345",
		"dob":        "1990-08-20",
		"is_active":  "true",
	}

	result := TransformRow(raw, patientTransformations(), Options{})

	require.True(t, result.Success, "failures: %+v errors: %v", result.Failures, result.Errors)
	assert.Equal(t, "12345", result.Row["patientId"])
	assert.Equal(t, true, result.Row["isActive"])

	dob, ok := result.Row["dob"].(time.Time)
	require.True(t, ok, "dob should be a time.Time")
	assert.Equal(t, 1990, dob.Year())
}

func TestTransformRow_InvalidDateFailsThatColumn(t *testing.T) {
	raw := map[string]string{
		"patient_id": "12345",
		"dob":        "not-a-date",
		"is_active":  "true",
	}

	result := TransformRow(raw, patientTransformations(), Options{})

	assert.False(t, result.Success)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "dob", result.Failures[0].Column)
}

func TestTransformRow_MissingRequiredColumnFails(t *testing.T) {
	raw := map[string]string{
		"dob":       "1990-08-20",
		"is_active": "true",
	}

	result := TransformRow(raw, patientTransformations(), Options{})

	assert.False(t, result.Success)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "patientId", result.Failures[0].Column)
	assert.Equal(t, "required", result.Failures[0].Rule)
}

func TestTransformRow_DefaultValueAppliedWhenSourceEmpty(t *testing.T) {
	transformations := []extract.ColumnTransformation{
		{SourceColumn: "status", TargetColumn: "status", TargetType: extract.TargetText, DefaultValue: strPtr("PENDING")},
	}

	result := TransformRow(map[string]string{"status": ""}, transformations, Options{})

	require.True(t, result.Success)
	assert.Equal(t, "PENDING", result.Row["status"])
}

func TestTransformRow_NullifyEmptyStringsProducesNull(t *testing.T) {
	transformations := []extract.ColumnTransformation{
		{SourceColumn: "middle_name", TargetColumn: "middleName", TargetType: extract.TargetText},
	}

	result := TransformRow(map[string]string{"middle_name": ""}, transformations, Options{NullifyEmptyStrings: true})

	require.True(t, result.Success)
	assert.Nil(t, result.Row["middleName"])
}

func TestTransformRow_TrimStringsAppliedBeforeCoercion(t *testing.T) {
	transformations := []extract.ColumnTransformation{
		{SourceColumn: "code", TargetColumn: "code", TargetType: extract.TargetText, Required: true},
	}

	result := TransformRow(map[string]string{"code": "  ABC123  "}, transformations, Options{TrimStrings: true})

	require.True(t, result.Success)
	assert.Equal(t, "ABC123", result.Row["code"])
}

func TestTransformRow_CustomTransformFuncError(t *testing.T) {
	transformations := []extract.ColumnTransformation{
		{
			SourceColumn: "nhi",
			TargetColumn: "nhi",
			TargetType:   extract.TargetText,
			TransformFunc: func(value string, _ map[string]string) (string, error) {
				return "", assert.AnError
			},
		},
	}

	result := TransformRow(map[string]string{"nhi": "ABC1234"}, transformations, Options{})

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
}

func strPtr(s string) *string { return &s }
