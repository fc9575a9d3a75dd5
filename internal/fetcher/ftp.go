package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotFound is returned when none of the requested remote files exist.
var ErrNotFound = eris.New("fetcher: remote file not found")

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout  time.Duration
	User     string // empty means anonymous, unless the URL carries userinfo
	Password string
}

// FTPFetcher downloads files over FTP.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

// parseFTPURL extracts host (with port), path and any userinfo from an FTP URL.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	t := ftpTarget{host: u.Host, path: u.Path}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if t.path == "" {
		return ftpTarget{}, eris.New("empty path in ftp url")
	}
	if u.User != nil {
		t.user = u.User.Username()
		t.password, _ = u.User.Password()
	}
	return t, nil
}

func (f *FTPFetcher) connect(ctx context.Context, t ftpTarget) (*ftp.ServerConn, error) {
	zap.L().Debug("ftp: connecting", zap.String("host", t.host), zap.String("path", t.path))

	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}

	user, pass := "anonymous", "anonymous@"
	switch {
	case t.user != "":
		user, pass = t.user, t.password
	case f.opts.User != "":
		user, pass = f.opts.User, f.opts.Password
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "ftp login")
	}
	return conn, nil
}

// ftpConnReader wraps an FTP response and connection so that closing the reader
// also closes the FTP response and disconnects from the server.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "quit ftp connection")
	}
	return nil
}

// Download connects to the FTP server, retrieves the file, and returns a reader.
// The caller must close the returned ReadCloser to release the FTP connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	t, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	conn, err := f.connect(ctx, t)
	if err != nil {
		return nil, err
	}

	resp, err := conn.Retr(t.path)
	if err != nil {
		_ = conn.Quit()
		if isUnavailable(err) {
			return nil, eris.Wrapf(ErrNotFound, "%s", t.path)
		}
		return nil, eris.Wrap(err, "ftp retrieve")
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// FetchFirst retrieves the first of names that exists under the directory in
// dirURL, over a single connection. It returns ErrNotFound when none exist.
func (f *FTPFetcher) FetchFirst(ctx context.Context, dirURL string, names []string) (string, []byte, error) {
	t, err := parseFTPURL(dirURL)
	if err != nil {
		return "", nil, err
	}

	conn, err := f.connect(ctx, t)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = conn.Quit() }()

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return "", nil, eris.Wrap(err, "ftp: context cancelled")
		}

		resp, err := conn.Retr(path.Join(t.path, name))
		if err != nil {
			if isUnavailable(err) {
				continue
			}
			return "", nil, eris.Wrapf(err, "ftp retrieve %s", name)
		}

		data, readErr := io.ReadAll(resp)
		closeErr := resp.Close()
		if readErr != nil {
			return "", nil, eris.Wrapf(readErr, "ftp read %s", name)
		}
		if closeErr != nil {
			return "", nil, eris.Wrapf(closeErr, "ftp close %s", name)
		}
		return name, data, nil
	}

	return "", nil, eris.Wrapf(ErrNotFound, "%s: tried %d names", t.path, len(names))
}

func isUnavailable(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable
}
