package surfside

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/fetcher"
	"github.com/sells-group/media-etl/internal/source"
)

// FTPStore reads exports from a directory on an FTP server.
type FTPStore struct {
	ftp    *fetcher.FTPFetcher
	dirURL string
}

// NewFTPStore creates an FTPStore rooted at dirURL, e.g. ftp://host/exports/.
func NewFTPStore(f *fetcher.FTPFetcher, dirURL string) *FTPStore {
	return &FTPStore{ftp: f, dirURL: dirURL}
}

// FetchFirst tries each name in order over one connection.
func (s *FTPStore) FetchFirst(ctx context.Context, names []string) (string, []byte, error) {
	name, data, err := s.ftp.FetchFirst(ctx, s.dirURL, names)
	if eris.Is(err, fetcher.ErrNotFound) {
		return "", nil, eris.Wrap(source.ErrNoData, err.Error())
	}
	return name, data, err
}
