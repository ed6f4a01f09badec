package fetcher

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

// JobOptions configures batch job list loading.
type JobOptions struct {
	CSV       CSVOptions   // delimiter, charset, quoting for CSV sources
	SheetName string       // XLSX sheet; empty means first sheet
	HTTP      *HTTPFetcher // used for http(s) sources; nil builds a default
	FTP       *FTPFetcher  // used for ftp sources; nil builds a default
}

// jobRow is the JSON shape of one batch entry.
type jobRow struct {
	Identifier   string `json:"identifier"`
	ASIN         string `json:"asin"` // accepted alias for identifier
	Keyword      string `json:"keyword"`
	OrganicOnly  bool   `json:"organic_only"`
	PromotedOnly bool   `json:"promoted_only"`
	Location     string `json:"location"`
}

// LoadJobs reads a batch job list from src and returns one rank-check request
// per usable row. src may be a local path or an http(s)/ftp URL; the format is
// inferred from the extension (.csv, .tsv, .xlsx, .json, or a .zip holding one
// of those). Rows missing an identifier or keyword are skipped with a warning;
// pattern validation happens later, per run.
func LoadJobs(ctx context.Context, src string, opts JobOptions) ([]model.Request, error) {
	path, cleanup, err := materialize(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadJobsCSV(ctx, path, opts.CSV)
	case ".tsv":
		csvOpts := opts.CSV
		if csvOpts.Delimiter == 0 {
			csvOpts.Delimiter = '\t'
		}
		return loadJobsCSV(ctx, path, csvOpts)
	case ".xlsx":
		return loadJobsXLSX(path, opts.SheetName)
	case ".json":
		return loadJobsJSON(ctx, path)
	default:
		return nil, eris.Errorf("jobs: unsupported source format %q", filepath.Ext(path))
	}
}

// materialize resolves src to a local file path, downloading remote sources
// to a temp directory and unpacking single-entry ZIP archives.
func materialize(ctx context.Context, src string, opts JobOptions) (string, func(), error) {
	cleanup := func() {}
	path := src

	u, err := url.Parse(src)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "ftp") {
		dir, err := os.MkdirTemp("", "rank-jobs-")
		if err != nil {
			return "", cleanup, eris.Wrap(err, "jobs: create temp dir")
		}
		cleanup = func() { os.RemoveAll(dir) }

		name := filepath.Base(u.Path)
		if name == "" || name == "/" || name == "." {
			name = "jobs.csv"
		}
		path = filepath.Join(dir, name)

		var dl Downloader
		switch {
		case u.Scheme == "ftp" && opts.FTP != nil:
			dl = opts.FTP
		case u.Scheme == "ftp":
			dl = NewFTPFetcher(FTPOptions{})
		case opts.HTTP != nil:
			dl = opts.HTTP
		default:
			dl = NewHTTPFetcher(HTTPOptions{})
		}
		if _, err := dl.DownloadToFile(ctx, src, path); err != nil {
			cleanup()
			return "", func() {}, err
		}
	}

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp("", "rank-jobs-zip-")
		if err != nil {
			return "", cleanup, eris.Wrap(err, "jobs: create temp dir")
		}
		prev := cleanup
		cleanup = func() { os.RemoveAll(dir); prev() }

		extracted, err := ExtractZIPSingle(path, dir)
		if err != nil {
			cleanup()
			return "", func() {}, err
		}
		path = extracted
	}

	return path, cleanup, nil
}

func loadJobsCSV(ctx context.Context, path string, opts CSVOptions) ([]model.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: open csv")
	}
	defer f.Close() //nolint:errcheck

	// Header handling is done here, not by StreamCSV: the first row is
	// inspected and treated as a header only when it names known columns.
	opts.HasHeader = false
	opts.HeaderCh = nil
	opts.TrimSpace = true

	rowCh, errCh := StreamCSV(ctx, f, opts)
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	return rowsToRequests(rows), nil
}

func loadJobsXLSX(path, sheetName string) ([]model.Request, error) {
	rows, err := ReadXLSX(path, XLSXOptions{SheetName: sheetName})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for i, cell := range row {
			row[i] = strings.TrimSpace(cell)
		}
	}
	return rowsToRequests(rows), nil
}

func loadJobsJSON(ctx context.Context, path string) ([]model.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: open json")
	}
	defer f.Close() //nolint:errcheck

	rowCh, errCh := DecodeJSONArray[jobRow](ctx, f)
	var reqs []model.Request
	n := 0
	for row := range rowCh {
		n++
		id := strings.TrimSpace(row.Identifier)
		if id == "" {
			id = strings.TrimSpace(row.ASIN)
		}
		kw := strings.TrimSpace(row.Keyword)
		if id == "" || kw == "" {
			zap.L().Warn("jobs: skipping entry missing identifier or keyword", zap.Int("entry", n))
			continue
		}
		req := model.Request{
			Identifier:    id,
			Keyword:       kw,
			CheckOrganic:  !row.PromotedOnly,
			CheckPromoted: !row.OrganicOnly,
			LocationHint:  strings.TrimSpace(row.Location),
		}
		req.EnableLocation = req.LocationHint != ""
		reqs = append(reqs, req)
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	return reqs, nil
}

// columnMap locates job fields within tabular rows.
type columnMap struct {
	identifier   int
	keyword      int
	location     int
	organicOnly  int
	promotedOnly int
}

// defaultColumns is used when the first row is not a recognizable header:
// identifier in column 0, keyword in column 1.
func defaultColumns() columnMap {
	return columnMap{identifier: 0, keyword: 1, location: -1, organicOnly: -1, promotedOnly: -1}
}

// mapHeader returns the column map for a header row and whether the row is a
// header at all. A row counts as a header when it names both an identifier
// and a keyword column.
func mapHeader(row []string) (columnMap, bool) {
	cm := columnMap{identifier: -1, keyword: -1, location: -1, organicOnly: -1, promotedOnly: -1}
	for i, cell := range row {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "identifier", "asin", "product_id", "catalog_id":
			cm.identifier = i
		case "keyword", "query", "term", "search_term":
			cm.keyword = i
		case "location", "location_hint", "zip", "postal_code":
			cm.location = i
		case "organic_only":
			cm.organicOnly = i
		case "promoted_only":
			cm.promotedOnly = i
		}
	}
	return cm, cm.identifier >= 0 && cm.keyword >= 0
}

func rowsToRequests(rows [][]string) []model.Request {
	if len(rows) == 0 {
		return nil
	}

	cm := defaultColumns()
	start := 0
	if header, ok := mapHeader(rows[0]); ok {
		cm = header
		start = 1
	}

	cell := func(row []string, idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	truthy := func(s string) bool {
		switch strings.ToLower(s) {
		case "1", "true", "yes", "y":
			return true
		}
		return false
	}

	var reqs []model.Request
	for i := start; i < len(rows); i++ {
		row := rows[i]
		if len(row) == 0 {
			continue
		}

		id := cell(row, cm.identifier)
		kw := cell(row, cm.keyword)
		if id == "" && kw == "" {
			continue // blank line
		}
		if id == "" || kw == "" {
			zap.L().Warn("jobs: skipping row missing identifier or keyword", zap.Int("row", i+1))
			continue
		}

		req := model.Request{
			Identifier:    id,
			Keyword:       kw,
			CheckOrganic:  !truthy(cell(row, cm.promotedOnly)),
			CheckPromoted: !truthy(cell(row, cm.organicOnly)),
			LocationHint:  cell(row, cm.location),
		}
		req.EnableLocation = req.LocationHint != ""
		reqs = append(reqs, req)
	}

	return reqs
}
