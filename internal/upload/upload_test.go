package upload

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/fetcher"
	"github.com/sells-group/media-etl/internal/ledger"
	"github.com/sells-group/media-etl/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	clientID = uuid.MustParse("2f1e0d9c-8b7a-4a6f-9e5d-4c3b2a1f0e9d")
	uploadID = uuid.MustParse("0b5c7d4e-1f2a-4b3c-8d9e-6f7a8b9c0d1e")
	fixedNow = time.Date(2026, 9, 15, 14, 30, 5, 0, time.UTC)
)

func newFiles(t *testing.T) *Files {
	t.Helper()
	f := NewFiles(t.TempDir())
	f.now = func() time.Time { return fixedNow }
	return f
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"fb_export.csv", "fb_export.csv", false},
		{"  spaced.xlsx ", "spaced.xlsx", false},
		{"../../etc/passwd.csv", "passwd.csv", false},
		{`C:\Users\ops\fb.csv`, "fb.csv", false},
		{"", "", true},
		{"..", "", true},
		{"/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanName(tt.in)
			if tt.wantErr {
				assert.True(t, eris.Is(err, ErrBadFileName))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFiles_SaveAndRead(t *testing.T) {
	f := newFiles(t)

	path, n, err := f.Save(clientID, "fb.csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.Equal(t, filepath.Join(f.dir, clientID.String(), "20260915T143005.000Z_fb.csv"), path)

	data, err := f.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	require.NoError(t, f.Remove(path))
	require.NoError(t, f.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAccept(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	files := newFiles(t)
	fileName := "fb_export.csv"
	by := "ops@example.com"
	day := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO uploaded_files")).
		WithArgs(pgxmock.AnyArg(), clientID, "facebook", fileName, pgxmock.AnyArg(), int64(4), "pending", &by).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ingestion_logs")).
		WithArgs(pgxmock.AnyArg(), "facebook", clientID, day, &fileName, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	acc, err := NewRegistry(files, ledger.New()).Accept(context.Background(), mock, AcceptParams{
		ClientID:   clientID,
		Source:     model.SourceFacebook,
		FileName:   fileName,
		Body:       strings.NewReader("x,y\n"),
		UploadedBy: by,
		RunDate:    day,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, acc.UploadID)
	assert.NotEqual(t, uuid.Nil, acc.RunID)
	assert.Equal(t, int64(4), acc.Size)
	assert.NoError(t, mock.ExpectationsWereMet())

	entries, err := os.ReadDir(filepath.Join(files.dir, clientID.String()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAccept_RemovesFileOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	files := newFiles(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO uploaded_files")).
		WillReturnError(eris.New("disk full"))
	mock.ExpectRollback()

	_, err = NewRegistry(files, ledger.New()).Accept(context.Background(), mock, AcceptParams{
		ClientID: clientID,
		Source:   model.SourceFacebook,
		FileName: "fb.csv",
		Body:     strings.NewReader("x\n"),
	})
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(files.dir, clientID.String()))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccept_Rejects(t *testing.T) {
	reg := NewRegistry(newFiles(t), ledger.New())

	_, err := reg.Accept(context.Background(), nil, AcceptParams{Source: "myspace", FileName: "a.csv"})
	assert.True(t, eris.Is(err, model.ErrUnknownSource))

	_, err = reg.Accept(context.Background(), nil, AcceptParams{Source: model.SourceFacebook, FileName: "a.pdf"})
	assert.True(t, eris.Is(err, fetcher.ErrUnsupportedFormat))

	_, err = reg.Accept(context.Background(), nil, AcceptParams{Source: model.SourceFacebook, FileName: ".."})
	assert.True(t, eris.Is(err, ErrBadFileName))
}

func uploadRow(path string) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "client_id", "source", "file_name", "file_path", "file_size",
		"upload_status", "uploaded_by", "records_count", "error_message", "processed_at", "created_at"}).
		AddRow(uploadID, clientID, "facebook", "fb.csv", path, int64(8), "pending", nil, 0, nil, nil, fixedNow)
}

func TestFindLatest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM uploaded_files WHERE client_id = $1 AND file_name = $2 ORDER BY created_at DESC")).
		WithArgs(clientID, "fb.csv").
		WillReturnRows(uploadRow("/data/fb.csv"))

	u, err := NewRegistry(newFiles(t), ledger.New()).FindLatest(context.Background(), mock, clientID, "fb.csv")
	require.NoError(t, err)
	assert.Equal(t, uploadID, u.ID)
	assert.Equal(t, model.SourceFacebook, u.Source)
	assert.Equal(t, model.UploadPending, u.Status)
	assert.Equal(t, "/data/fb.csv", u.FilePath)
	assert.Empty(t, u.UploadedBy)
	assert.Nil(t, u.ProcessedAt)
}

func TestFindLatest_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM uploaded_files")).
		WithArgs(clientID, "gone.csv").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = NewRegistry(newFiles(t), ledger.New()).FindLatest(context.Background(), mock, clientID, "gone.csv")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestMarkTransitions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewRegistry(newFiles(t), ledger.New())
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE uploaded_files SET upload_status = $2 WHERE id = $1")).
		WithArgs(uploadID, "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE uploaded_files SET upload_status = $2, records_count = $3")).
		WithArgs(uploadID, "processed", 42).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE uploaded_files SET upload_status = $2, error_message = $3")).
		WithArgs(uploadID, "failed", "bad header").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, reg.MarkProcessing(ctx, mock, uploadID))
	require.NoError(t, reg.MarkProcessed(ctx, mock, uploadID, 42))
	err = reg.MarkFailed(ctx, mock, uploadID, "bad header")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
