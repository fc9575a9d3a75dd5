// Package upload keeps the uploaded_files registry and the stored bytes behind
// it. Accepting a file only queues it; the recovery sweep processes it.
package upload

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/fetcher"
	"github.com/sells-group/media-etl/internal/ledger"
	"github.com/sells-group/media-etl/internal/model"
)

// ErrNotFound is returned when no upload matches.
var ErrNotFound = eris.New("upload: not found")

const selectUploads = `SELECT id, client_id, source, file_name, file_path, file_size, upload_status,
	uploaded_by, records_count, error_message, processed_at, created_at FROM uploaded_files`

// Registry records uploads and reads their bytes back.
type Registry struct {
	files  *Files
	ledger *ledger.Ledger
	log    *zap.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(files *Files, l *ledger.Ledger) *Registry {
	return &Registry{
		files:  files,
		ledger: l,
		log:    zap.L().With(zap.String("component", "upload")),
	}
}

// AcceptParams describes an incoming file.
type AcceptParams struct {
	ClientID   uuid.UUID
	Source     model.Source
	FileName   string
	Body       io.Reader
	UploadedBy string
	RunDate    time.Time
}

// Accepted identifies the upload and the run queued for it.
type Accepted struct {
	UploadID uuid.UUID `json:"upload_id"`
	RunID    uuid.UUID `json:"run_id"`
	FileName string    `json:"file_name"`
	Size     int64     `json:"size"`
}

// Accept stores the file, records it as pending and opens a processing run
// for it in one transaction. The stored file is removed if that fails.
func (r *Registry) Accept(ctx context.Context, pool db.Pool, p AcceptParams) (*Accepted, error) {
	if !p.Source.Valid() {
		return nil, eris.Wrapf(model.ErrUnknownSource, "upload: accept %q", p.Source)
	}
	name, err := CleanName(p.FileName)
	if err != nil {
		return nil, err
	}
	if _, err := fetcher.FormatOf(name); err != nil {
		return nil, err
	}

	path, size, err := r.files.Save(p.ClientID, name, p.Body)
	if err != nil {
		return nil, err
	}

	acc, err := r.record(ctx, pool, p, name, path, size)
	if err != nil {
		if rmErr := r.files.Remove(path); rmErr != nil {
			r.log.Warn("remove orphaned upload", zap.String("path", path), zap.Error(rmErr))
		}
		return nil, err
	}

	r.log.Info("upload accepted",
		zap.String("client_id", p.ClientID.String()),
		zap.String("source", p.Source.String()),
		zap.String("file", name),
		zap.Int64("bytes", size),
		zap.String("run_id", acc.RunID.String()),
	)
	return acc, nil
}

func (r *Registry) record(ctx context.Context, pool db.Pool, p AcceptParams, name, path string, size int64) (*Accepted, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "upload: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u := &model.Upload{
		ClientID:   p.ClientID,
		Source:     p.Source,
		FileName:   name,
		FilePath:   path,
		FileSize:   size,
		UploadedBy: p.UploadedBy,
	}
	if err := r.Create(ctx, tx, u); err != nil {
		return nil, err
	}

	runID, err := r.ledger.Start(ctx, tx, ledger.StartParams{
		Source:   p.Source,
		ClientID: p.ClientID,
		RunDate:  p.RunDate,
		FileName: name,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "upload: commit")
	}
	return &Accepted{UploadID: u.ID, RunID: runID, FileName: name, Size: size}, nil
}

// Create inserts a pending upload, filling in its id.
func (r *Registry) Create(ctx context.Context, q db.Querier, u *model.Upload) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Status = model.UploadPending
	_, err := q.Exec(ctx,
		`INSERT INTO uploaded_files (id, client_id, source, file_name, file_path, file_size, upload_status, uploaded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		u.ID, u.ClientID, string(u.Source), u.FileName, u.FilePath, u.FileSize, string(u.Status), nullable(u.UploadedBy),
	)
	return eris.Wrapf(err, "upload: create %s", u.FileName)
}

// FindLatest returns the most recent upload of fileName for a client.
func (r *Registry) FindLatest(ctx context.Context, q db.Querier, clientID uuid.UUID, fileName string) (*model.Upload, error) {
	row := q.QueryRow(ctx,
		selectUploads+` WHERE client_id = $1 AND file_name = $2 ORDER BY created_at DESC LIMIT 1`,
		clientID, fileName,
	)
	u, err := scanUpload(row)
	if db.IsNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "%s", fileName)
	}
	if err != nil {
		return nil, eris.Wrap(err, "upload: find latest")
	}
	return u, nil
}

// MarkProcessing moves an upload into processing.
func (r *Registry) MarkProcessing(ctx context.Context, q db.Querier, id uuid.UUID) error {
	return r.set(ctx, q, id,
		`UPDATE uploaded_files SET upload_status = $2 WHERE id = $1`,
		string(model.UploadProcessing))
}

// MarkProcessed records a successful pass with the number of records loaded.
func (r *Registry) MarkProcessed(ctx context.Context, q db.Querier, id uuid.UUID, count int) error {
	return r.set(ctx, q, id,
		`UPDATE uploaded_files SET upload_status = $2, records_count = $3, error_message = NULL, processed_at = now() WHERE id = $1`,
		string(model.UploadProcessed), count)
}

// MarkFailed records why an upload could not be processed.
func (r *Registry) MarkFailed(ctx context.Context, q db.Querier, id uuid.UUID, msg string) error {
	return r.set(ctx, q, id,
		`UPDATE uploaded_files SET upload_status = $2, error_message = $3, processed_at = now() WHERE id = $1`,
		string(model.UploadFailed), msg)
}

func (r *Registry) set(ctx context.Context, q db.Querier, id uuid.UUID, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return eris.Wrap(err, "upload: update status")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", id)
	}
	return nil
}

// Read returns the stored bytes of u.
func (r *Registry) Read(u *model.Upload) ([]byte, error) {
	return r.files.Read(u.FilePath)
}

func scanUpload(row interface{ Scan(...any) error }) (*model.Upload, error) {
	var (
		u          model.Upload
		source     string
		status     string
		uploadedBy *string
		errMsg     *string
	)
	if err := row.Scan(&u.ID, &u.ClientID, &source, &u.FileName, &u.FilePath, &u.FileSize, &status,
		&uploadedBy, &u.RecordsCount, &errMsg, &u.ProcessedAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Source = model.Source(source)
	u.Status = model.UploadStatus(status)
	u.UploadedBy = deref(uploadedBy)
	u.ErrorMessage = deref(errMsg)
	return &u, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
