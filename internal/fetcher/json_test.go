package fetcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectJSON[T any](t *testing.T, ch <-chan T, errCh <-chan error) ([]T, error) {
	t.Helper()
	var items []T
	for item := range ch {
		items = append(items, item)
	}
	var first error
	for err := range errCh {
		if err != nil && first == nil {
			first = err
		}
	}
	return items, first
}

func TestDecodeJSONArray_JobEntries(t *testing.T) {
	input := `[
		{"identifier":"B0EXAMPLE1","keyword":"wireless earbuds"},
		{"asin":"B0EXAMPLE2","keyword":"usb c hub","organic_only":true},
		{"identifier":"B0EXAMPLE3","keyword":"yoga mat","location":"10001"}
	]`

	ch, errCh := DecodeJSONArray[jobRow](context.Background(), strings.NewReader(input))
	rows, err := collectJSON(t, ch, errCh)
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, "B0EXAMPLE1", rows[0].Identifier)
	assert.Equal(t, "wireless earbuds", rows[0].Keyword)
	assert.Equal(t, "B0EXAMPLE2", rows[1].ASIN)
	assert.True(t, rows[1].OrganicOnly)
	assert.Equal(t, "10001", rows[2].Location)
}

func TestDecodeJSONArray_EmptyArray(t *testing.T) {
	ch, errCh := DecodeJSONArray[jobRow](context.Background(), strings.NewReader(`[]`))
	rows, err := collectJSON(t, ch, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecodeJSONArray_EmptyInputIsEmptyArray(t *testing.T) {
	ch, errCh := DecodeJSONArray[jobRow](context.Background(), strings.NewReader(""))
	rows, err := collectJSON(t, ch, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecodeJSONArray_TopLevelObjectRejected(t *testing.T) {
	input := `{"identifier":"B0EXAMPLE1","keyword":"not an array"}`
	ch, errCh := DecodeJSONArray[jobRow](context.Background(), strings.NewReader(input))
	_, err := collectJSON(t, ch, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestDecodeJSONArray_MalformedElement(t *testing.T) {
	input := `[{"identifier":"B0EXAMPLE1","keyword":"water bottle"},{"identifier":}]`
	ch, errCh := DecodeJSONArray[jobRow](context.Background(), strings.NewReader(input))
	rows, err := collectJSON(t, ch, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode array element")
	assert.Len(t, rows, 1)
}

func TestDecodeJSONArray_Cancelled(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("[")
	for i := range 10000 {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"identifier":"B0EXAMPLE1","keyword":"desk lamp"}`)
	}
	sb.WriteString("]")

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	ch, errCh := DecodeJSONArray[jobRow](ctx, strings.NewReader(sb.String()))
	_, err := collectJSON(t, ch, errCh)
	// The producer only notices cancellation when it blocks on a send, so a
	// fast consumer may drain everything first.
	if err != nil {
		assert.Contains(t, err.Error(), "context")
	}
}
