package fetcher

import (
	"context"
	"io"
)

// Downloader pulls a remote job list down to the local filesystem. Both the
// HTTP and FTP fetchers satisfy it; LoadJobs picks one by URL scheme.
type Downloader interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

var (
	_ Downloader = (*HTTPFetcher)(nil)
	_ Downloader = (*FTPFetcher)(nil)
)
