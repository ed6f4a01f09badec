package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher downloads job lists from FTP drops. Some suppliers still
// publish their batch feeds this way.
type FTPFetcher struct {
	opts FTPOptions
}

func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

// ftpTarget is a parsed ftp:// URL. Anonymous credentials fill in when the
// URL carries no userinfo.
type ftpTarget struct {
	addr string // host:port, port 21 when the URL names none
	path string
	user string
	pass string
}

func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" {
		return ftpTarget{}, eris.New("empty path in ftp url")
	}

	tgt := ftpTarget{
		addr: u.Host,
		path: u.Path,
		user: "anonymous",
		pass: "anonymous@",
	}
	if _, _, err := net.SplitHostPort(tgt.addr); err != nil {
		tgt.addr = net.JoinHostPort(tgt.addr, "21")
	}
	if u.User != nil {
		tgt.user = u.User.Username()
		tgt.pass, _ = u.User.Password()
	}
	return tgt, nil
}

// connect dials the control connection and logs in.
func (f *FTPFetcher) connect(ctx context.Context, tgt ftpTarget) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(tgt.addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}
	if err := conn.Login(tgt.user, tgt.pass); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "ftp login")
	}
	return conn, nil
}

// ftpFile keeps the control connection open for the life of the transfer;
// closing it releases both.
type ftpFile struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpFile) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

// Close ends the transfer, then quits the session. The quit still runs when
// closing the transfer fails.
func (r *ftpFile) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "close ftp transfer")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "quit ftp session")
	}
	return nil
}

// Download retrieves the file behind an ftp:// URL. The caller must close
// the returned reader to release the connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	tgt, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp: fetching job list",
		zap.String("addr", tgt.addr),
		zap.String("path", tgt.path),
	)

	conn, err := f.connect(ctx, tgt)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(tgt.path)
	if err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "ftp retrieve")
	}
	return &ftpFile{resp: resp, conn: conn}, nil
}

// DownloadToFile retrieves the FTP URL to a local file and reports bytes
// written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL string, path string) (int64, error) {
	rc, err := f.Download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	n, err := io.Copy(out, rc)
	if err != nil {
		out.Close() //nolint:errcheck
		return n, eris.Wrap(err, "write file")
	}
	if err := out.Close(); err != nil {
		return n, eris.Wrap(err, "close file")
	}
	return n, nil
}
