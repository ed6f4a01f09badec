package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray streams the elements of a top-level JSON array without
// materializing the whole document. Empty input counts as an empty array.
// Both channels close when the array ends or after the first error.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	items := make(chan T, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		dec := json.NewDecoder(r)

		tok, err := dec.Token()
		switch {
		case errors.Is(err, io.EOF):
			return
		case err != nil:
			errs <- eris.Wrap(err, "json: read array start")
			return
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			errs <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for dec.More() {
			var item T
			if err := dec.Decode(&item); err != nil {
				errs <- eris.Wrap(err, "json: decode array element")
				return
			}
			select {
			case items <- item:
			case <-ctx.Done():
				errs <- eris.Wrap(ctx.Err(), "json: decode cancelled")
				return
			}
		}

		if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
			errs <- eris.Wrap(err, "json: read array end")
		}
	}()

	return items, errs
}
