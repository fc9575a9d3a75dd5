package upload

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// ErrBadFileName is returned for a name that cannot be stored safely.
var ErrBadFileName = eris.New("upload: invalid file name")

// Files stores upload bytes under dir/{client}/{timestamp}_{name}.
type Files struct {
	dir string
	now func() time.Time
}

// NewFiles creates a Files rooted at dir.
func NewFiles(dir string) *Files {
	return &Files{dir: dir, now: time.Now}
}

// CleanName reduces name to its base and rejects empty or traversal names.
func CleanName(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, `\`, "/")))
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", eris.Wrapf(ErrBadFileName, "%q", name)
	}
	return base, nil
}

// Save writes r to a new file and returns its path and size. The name must
// already be clean.
func (f *Files) Save(clientID uuid.UUID, name string, r io.Reader) (string, int64, error) {
	dir := filepath.Join(f.dir, clientID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, eris.Wrap(err, "upload: create client dir")
	}

	path := filepath.Join(dir, f.now().UTC().Format("20060102T150405.000Z")+"_"+name)
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", 0, eris.Wrap(err, "upload: create file")
	}

	n, err := io.Copy(out, r)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, eris.Wrap(err, "upload: write file")
	}
	return path, n, nil
}

// Read returns the bytes stored at path.
func (f *Files) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "upload: read %s", filepath.Base(path))
	}
	return data, nil
}

// Remove deletes a stored file, ignoring one that is already gone.
func (f *Files) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return eris.Wrap(err, "upload: remove file")
	}
	return nil
}
