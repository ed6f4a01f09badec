package report

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/pkg/notion"
)

// Publisher upserts finished rank checks into a Notion results database.
// Pages are keyed by (identifier, keyword): re-checking a pair updates its
// existing page instead of stacking a new row.
type Publisher struct {
	client notion.Client
	dbID   string
}

// NewPublisher returns a Publisher writing to the given results database.
func NewPublisher(client notion.Client, dbID string) *Publisher {
	return &Publisher{client: client, dbID: dbID}
}

// PublishRun upserts a single finished run, locating any existing page with
// one filtered query.
func (p *Publisher) PublishRun(ctx context.Context, run *model.Run) error {
	if !finished(run) {
		return eris.Errorf("report: run %s not finished (status %s)", run.ID, run.Status)
	}
	page, err := notion.FindResultPage(ctx, p.client, p.dbID, run.Request.Identifier, run.Request.Keyword)
	if err != nil {
		return err
	}
	pageID := ""
	if page != nil {
		pageID = string(page.ID)
	}
	_, err = p.upsert(ctx, run, pageID)
	return err
}

// PublishRuns upserts a batch of runs. The existing page index is fetched
// once up front so each run costs one write instead of a query plus a
// write. Unfinished runs are skipped. Returns the number published; stops
// at the first API error.
func (p *Publisher) PublishRuns(ctx context.Context, runs []model.Run) (int, error) {
	index, err := p.loadIndex(ctx)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range runs {
		run := &runs[i]
		if !finished(run) {
			zap.L().Debug("report: skipping unfinished run",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
			)
			continue
		}
		key := resultKey(run.Request.Identifier, run.Request.Keyword)
		pageID, err := p.upsert(ctx, run, index[key])
		if err != nil {
			return published, err
		}
		index[key] = pageID
		published++
	}
	return published, nil
}

// upsert updates pageID in place, or creates a new page when pageID is
// empty. Returns the ID of the page written.
func (p *Publisher) upsert(ctx context.Context, run *model.Run, pageID string) (string, error) {
	props := runProperties(run)

	if pageID != "" {
		page, err := p.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
			Properties: props,
		})
		if err != nil {
			return "", eris.Wrap(err, fmt.Sprintf("report: update notion page for %s", run.Request.Identifier))
		}
		return string(page.ID), nil
	}

	page, err := p.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(p.dbID),
		},
		Properties: props,
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("report: create notion page for %s", run.Request.Identifier))
	}
	return string(page.ID), nil
}

// loadIndex maps (identifier, keyword) pairs to existing page IDs.
func (p *Publisher) loadIndex(ctx context.Context) (map[string]string, error) {
	pages, err := notion.QueryAll(ctx, p.client, p.dbID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "report: load notion result index")
	}
	index := make(map[string]string, len(pages))
	for i := range pages {
		page := &pages[i]
		identifier := richTextValue(page.Properties, "Identifier")
		keyword := richTextValue(page.Properties, "Keyword")
		if identifier == "" || keyword == "" {
			continue
		}
		index[resultKey(identifier, keyword)] = string(page.ID)
	}
	return index, nil
}

// runProperties maps a finished run onto the results database schema. Rank
// properties are set only when the rank exists, so "not found" pages show
// empty cells rather than zeros.
func runProperties(run *model.Run) notionapi.Properties {
	checkedAt := notionapi.Date(run.UpdatedAt)

	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{
					Content: run.Request.Identifier + " / " + run.Request.Keyword,
				}},
			},
		},
		"Identifier": richTextProp(run.Request.Identifier),
		"Keyword":    richTextProp(run.Request.Keyword),
		"Status": notionapi.StatusProperty{
			Status: notionapi.Status{
				Name: statusName(run.Status),
			},
		},
		"Attempts": notionapi.NumberProperty{
			Number: float64(run.Attempts),
		},
		"Checked At": notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: &checkedAt,
			},
		},
	}

	if res := run.Result; res != nil {
		if res.OrganicRank != nil {
			props["Organic Rank"] = notionapi.NumberProperty{Number: float64(*res.OrganicRank)}
		}
		if res.PromotedRank != nil {
			props["Promoted Rank"] = notionapi.NumberProperty{Number: float64(*res.PromotedRank)}
		}
		if res.PageFound != nil {
			props["Page"] = notionapi.NumberProperty{Number: float64(*res.PageFound)}
		}
		if res.PositionOnPage != nil {
			props["Position"] = notionapi.NumberProperty{Number: float64(*res.PositionOnPage)}
		}
		props["Pages Scanned"] = notionapi.NumberProperty{Number: float64(res.ScannedPages)}
		props["Results Scanned"] = notionapi.NumberProperty{Number: float64(res.TotalResultsScanned)}
		props["Found"] = notionapi.CheckboxProperty{Checkbox: res.Found()}
		props["Boundary Validated"] = notionapi.CheckboxProperty{Checkbox: res.BoundaryValidated}
	}

	if run.Error != nil {
		msg := run.Error.Message
		if len(msg) > 200 {
			msg = msg[:200]
		}
		props["Error"] = richTextProp(string(run.Error.Code) + ": " + msg)
	}

	return props
}

func statusName(s model.RunStatus) string {
	if s == model.RunStatusFailed {
		return "Failed"
	}
	return "Complete"
}

func finished(run *model.Run) bool {
	return run.Status == model.RunStatusComplete || run.Status == model.RunStatusFailed
}

func resultKey(identifier, keyword string) string {
	return identifier + "\x00" + keyword
}

// richTextProp builds a single-segment rich_text property for writes.
func richTextProp(content string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type: notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: content}},
		},
	}
}

// richTextValue reads a rich_text property's plain text from a fetched page.
func richTextValue(props notionapi.Properties, name string) string {
	prop, ok := props[name]
	if !ok {
		return ""
	}
	rtp, ok := prop.(*notionapi.RichTextProperty)
	if !ok {
		return ""
	}
	var s string
	for _, rt := range rtp.RichText {
		s += rt.PlainText
	}
	return s
}
