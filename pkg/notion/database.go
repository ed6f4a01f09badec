package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll walks a database query through Notion's cursor pagination and
// returns every page. The next cursor is fetched in the background while
// the current batch is appended.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	type fetched struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}

	// fetch issues one cursor's query in a goroutine. Filter, sorts, and
	// page size carry across every cursor.
	fetch := func(cursor notionapi.Cursor) <-chan fetched {
		ch := make(chan fetched, 1)
		go func() {
			req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
			if filter != nil {
				req.Filter = filter.Filter
				req.Sorts = filter.Sorts
				req.PageSize = filter.PageSize
			}
			resp, err := c.QueryDatabase(ctx, dbID, req)
			ch <- fetched{resp: resp, err: err}
		}()
		return ch
	}

	var all []notionapi.Page
	pending := fetch("")
	for {
		got := <-pending
		if got.err != nil {
			return nil, eris.Wrap(got.err, "notion: query all page")
		}
		if got.resp.HasMore {
			pending = fetch(got.resp.NextCursor)
		}
		all = append(all, got.resp.Results...)
		if !got.resp.HasMore {
			return all, nil
		}
	}
}

// FindResultPage returns the page keyed by (identifier, keyword) in the
// results database, or nil when no such page exists yet.
func FindResultPage(ctx context.Context, c Client, dbID, identifier, keyword string) (*notionapi.Page, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.AndCompoundFilter{
			notionapi.PropertyFilter{
				Property: "Identifier",
				RichText: &notionapi.TextFilterCondition{Equals: identifier},
			},
			notionapi.PropertyFilter{
				Property: "Keyword",
				RichText: &notionapi.TextFilterCondition{Equals: keyword},
			},
		},
		PageSize: 1,
	}
	resp, err := c.QueryDatabase(ctx, dbID, req)
	if err != nil {
		return nil, eris.Wrap(err, "notion: find result page")
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}
