package streamproc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nz-health/extract-loader/internal/parser"
)

func newTestParser(input string) *parser.Parser {
	return parser.New(strings.NewReader(input), parser.Options{
		Columns: []string{"a", "b"},
	}, nil)
}

func TestProcessor_BatchesInOrder(t *testing.T) {
	input := "1|^^|2|~~|3|^^|4|~~|5|^^|6|~~|"
	p := newTestParser(input)

	var (
		mu          sync.Mutex
		seenBatches []int
	)

	executor := func(_ context.Context, batch Batch) (BatchResult, error) {
		mu.Lock()
		seenBatches = append(seenBatches, batch.BatchNumber)
		mu.Unlock()

		return BatchResult{Success: true, RowsInserted: len(batch.Rows)}, nil
	}

	proc := New(p, Options{BatchSize: 2}, executor)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalRows)
	assert.Equal(t, 2, summary.SuccessfulBatches) // 2 rows + 1 row
	assert.Equal(t, 3, summary.RowsInserted)
	assert.Equal(t, []int{1, 2}, seenBatches)
}

func TestProcessor_ContinueOnErrorKeepsGoing(t *testing.T) {
	input := "1|^^|2|~~|3|^^|4|~~|"
	p := newTestParser(input)

	calls := 0
	executor := func(_ context.Context, batch Batch) (BatchResult, error) {
		calls++
		if batch.BatchNumber == 1 {
			return BatchResult{}, errors.New("boom")
		}

		return BatchResult{Success: true, RowsInserted: len(batch.Rows)}, nil
	}

	proc := New(p, Options{BatchSize: 1, ContinueOnError: true}, executor)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, summary.FailedBatches)
	assert.Equal(t, 1, summary.SuccessfulBatches)
}

func TestProcessor_StopsOnErrorWithoutContinueOnError(t *testing.T) {
	input := "1|^^|2|~~|3|^^|4|~~|5|^^|6|~~|"
	p := newTestParser(input)

	calls := 0
	executor := func(_ context.Context, batch Batch) (BatchResult, error) {
		calls++

		return BatchResult{}, errors.New("boom")
	}

	proc := New(p, Options{BatchSize: 1, ContinueOnError: false}, executor)

	_, err := proc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
