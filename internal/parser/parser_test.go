package parser

import (
	"context"
	"io"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_BasicTwoRows(t *testing.T) {
	// S1: field sep |^^|, row sep |~~|, columns [a,b,c].
	input := "1|^^|2|^^|3|~~|4|^^|5|^^|6"
	p := New(strings.NewReader(input), Options{Columns: []string{"a", "b", "c"}}, nil)

	row1, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, row1.Values)

	row2, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5", "6"}, row2.Values)

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, 2, p.RowNumber())
}

func TestParser_UTF16LEWithBOMAndEmbeddedNUL(t *testing.T) {
	// S2: UTF-16LE BOM, embedded NUL in field b, stripped on round trip.
	text := "1|^^|2\x003|^^|3|~~|"
	u16 := utf16.Encode([]rune(text))

	buf := []byte{0xFF, 0xFE}
	for _, u := range u16 {
		buf = append(buf, byte(u), byte(u>>8))
	}

	p := New(strings.NewReader(string(buf)), Options{Columns: []string{"a", "b", "c"}}, nil)

	row, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EncodingUTF16LE, p.Encoding())
	assert.Equal(t, []string{"1", "23", "3"}, row.Values)
}

func TestParser_MissingTrailingFieldsBecomeEmpty(t *testing.T) {
	p := New(strings.NewReader("1|^^|2|~~|"), Options{Columns: []string{"a", "b", "c"}}, nil)

	row, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", ""}, row.Values)
}

func TestParser_ExtraFieldsIgnored(t *testing.T) {
	p := New(strings.NewReader("1|^^|2|^^|3|^^|4|~~|"), Options{Columns: []string{"a", "b", "c"}}, nil)

	row, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, row.Values)
}

func TestParser_SkipEmptyRows(t *testing.T) {
	p := New(strings.NewReader("|~~||~~|1|^^|2|~~|"), Options{
		Columns:       []string{"a", "b"},
		SkipEmptyRows: true,
	}, nil)

	row, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, row.Values)

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestParser_SkipEmptyRows_AllFieldsEmptyAfterTrim(t *testing.T) {
	// A row made only of field separators and whitespace has a non-empty
	// rowText but every field is empty once trimmed, so it must still be
	// skipped.
	p := New(strings.NewReader("  |^^|  |~~|1|^^|2|~~|"), Options{
		Columns:       []string{"a", "b"},
		SkipEmptyRows: true,
	}, nil)

	row, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, row.Values)

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestParser_RowTooLongIsFatal(t *testing.T) {
	p := New(strings.NewReader(strings.Repeat("x", 100)), Options{
		Columns:      []string{"a"},
		MaxRowLength: 10,
	}, nil)

	_, err := p.Next(context.Background())
	require.Error(t, err)
}

func TestParser_FieldTruncatedNotFatal(t *testing.T) {
	p := New(strings.NewReader(strings.Repeat("x", 20)+"|~~|"), Options{
		Columns:        []string{"a"},
		MaxFieldLength: 5,
	}, nil)

	row, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, row.Values[0], 5)
}
