package staging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeByNaturalKey_KeepsNewestUpdatedAt(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	rows := []survivorRow{
		{index: 0, values: map[string]any{"patientId": "1", "updatedAt": older, "name": "Old"}},
		{index: 1, values: map[string]any{"patientId": "1", "updatedAt": newer, "name": "New"}},
	}

	deduped, dupeCount := dedupeByNaturalKey(rows, []string{"patientId"})

	require.Len(t, deduped, 1)
	assert.Equal(t, "New", deduped[0].values["name"])
	assert.Equal(t, 1, dupeCount)
}

func TestDedupeByNaturalKey_TiesBreakOnLowestIndex(t *testing.T) {
	same := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []survivorRow{
		{index: 0, values: map[string]any{"patientId": "1", "updatedAt": same, "name": "First"}},
		{index: 1, values: map[string]any{"patientId": "1", "updatedAt": same, "name": "Second"}},
	}

	deduped, _ := dedupeByNaturalKey(rows, []string{"patientId"})

	require.Len(t, deduped, 1)
	assert.Equal(t, "First", deduped[0].values["name"])
}

func TestDedupeByNaturalKey_DistinctKeysBothSurvive(t *testing.T) {
	rows := []survivorRow{
		{index: 0, values: map[string]any{"patientId": "1"}},
		{index: 1, values: map[string]any{"patientId": "2"}},
	}

	deduped, dupeCount := dedupeByNaturalKey(rows, []string{"patientId"})

	assert.Len(t, deduped, 2)
	assert.Equal(t, 0, dupeCount)
}

func TestDedupeByNaturalKey_NullComponentDoesNotCollideWithEmptyString(t *testing.T) {
	rows := []survivorRow{
		{index: 0, values: map[string]any{"patientId": "1", "suffix": nil}},
		{index: 1, values: map[string]any{"patientId": "1", "suffix": ""}},
	}

	deduped, _ := dedupeByNaturalKey(rows, []string{"patientId", "suffix"})

	assert.Len(t, deduped, 2)
}

func TestDedupeByNaturalKey_NoNaturalKeysIsNoop(t *testing.T) {
	rows := []survivorRow{{index: 0}, {index: 1}}

	deduped, dupeCount := dedupeByNaturalKey(rows, nil)

	assert.Len(t, deduped, 2)
	assert.Equal(t, 0, dupeCount)
}
