// Package client reads the advertiser directory and per-client report API
// credentials.
package client

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/model"
)

var (
	// ErrNotFound is returned when no client matches.
	ErrNotFound = eris.New("client: not found")
	// ErrNoCredentials is returned when a client has no active report API credentials.
	ErrNoCredentials = eris.New("client: no vibe credentials")
)

// Directory looks up clients.
type Directory struct{}

// NewDirectory creates a Directory.
func NewDirectory() *Directory {
	return &Directory{}
}

// ListActive returns active clients ordered by name.
func (d *Directory) ListActive(ctx context.Context, q db.Querier) ([]model.Client, error) {
	rows, err := q.Query(ctx, `SELECT id, name, status FROM clients WHERE status = 'active' ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "client: list active")
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		var c model.Client
		var status string
		if err := rows.Scan(&c.ID, &c.Name, &status); err != nil {
			return nil, eris.Wrap(err, "client: scan")
		}
		c.Status = model.ClientStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns the client with id.
func (d *Directory) Get(ctx context.Context, q db.Querier, id uuid.UUID) (*model.Client, error) {
	return d.one(ctx, q, `SELECT id, name, status FROM clients WHERE id = $1`, id)
}

// GetByName returns the client with the given name, compared case-insensitively.
func (d *Directory) GetByName(ctx context.Context, q db.Querier, name string) (*model.Client, error) {
	return d.one(ctx, q, `SELECT id, name, status FROM clients WHERE lower(name) = $1`, strings.ToLower(strings.TrimSpace(name)))
}

// Resolve accepts either a client id or a name.
func (d *Directory) Resolve(ctx context.Context, q db.Querier, ref string) (*model.Client, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return d.Get(ctx, q, id)
	}
	return d.GetByName(ctx, q, ref)
}

// Create adds an active client.
func (d *Directory) Create(ctx context.Context, q db.Querier, name string) (*model.Client, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, eris.New("client: empty name")
	}
	c := &model.Client{ID: uuid.New(), Name: name, Status: model.ClientActive}
	if _, err := q.Exec(ctx,
		`INSERT INTO clients (id, name, status) VALUES ($1, $2, $3)`,
		c.ID, c.Name, string(c.Status),
	); err != nil {
		return nil, eris.Wrapf(err, "client: create %q", name)
	}
	return c, nil
}

// ListSurfside returns active clients with a file-drop prefix, with
// SurfsidePrefix filled in.
func (d *Directory) ListSurfside(ctx context.Context, q db.Querier) ([]model.Client, error) {
	rows, err := q.Query(ctx,
		`SELECT id, name, status, surfside_prefix FROM clients
		 WHERE status = 'active' AND surfside_prefix IS NOT NULL ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "client: list surfside")
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		var c model.Client
		var status string
		if err := rows.Scan(&c.ID, &c.Name, &status, &c.SurfsidePrefix); err != nil {
			return nil, eris.Wrap(err, "client: scan")
		}
		c.Status = model.ClientStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListVibe returns active clients holding active report API credentials.
func (d *Directory) ListVibe(ctx context.Context, q db.Querier) ([]model.Client, error) {
	rows, err := q.Query(ctx,
		`SELECT c.id, c.name, c.status FROM clients c
		 JOIN vibe_credentials v ON v.client_id = c.id AND v.active
		 WHERE c.status = 'active' ORDER BY c.name`)
	if err != nil {
		return nil, eris.Wrap(err, "client: list vibe")
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		var c model.Client
		var status string
		if err := rows.Scan(&c.ID, &c.Name, &status); err != nil {
			return nil, eris.Wrap(err, "client: scan")
		}
		c.Status = model.ClientStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SurfsidePrefix returns the client's file-drop prefix, empty when unset.
func (d *Directory) SurfsidePrefix(ctx context.Context, q db.Querier, id uuid.UUID) (string, error) {
	var prefix *string
	err := q.QueryRow(ctx, `SELECT surfside_prefix FROM clients WHERE id = $1`, id).Scan(&prefix)
	if db.IsNoRows(err) {
		return "", eris.Wrapf(ErrNotFound, "%s", id)
	}
	if err != nil {
		return "", eris.Wrap(err, "client: surfside prefix")
	}
	if prefix == nil {
		return "", nil
	}
	return *prefix, nil
}

// VibeCredentials returns the client's active report API credentials.
func (d *Directory) VibeCredentials(ctx context.Context, q db.Querier, clientID uuid.UUID) (*model.VibeCredentials, error) {
	creds := &model.VibeCredentials{ClientID: clientID}
	err := q.QueryRow(ctx,
		`SELECT api_key, advertiser_id FROM vibe_credentials WHERE client_id = $1 AND active`,
		clientID,
	).Scan(&creds.APIKey, &creds.AdvertiserID)
	if db.IsNoRows(err) {
		return nil, eris.Wrapf(ErrNoCredentials, "client %s", clientID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "client: vibe credentials for %s", clientID)
	}
	return creds, nil
}

func (d *Directory) one(ctx context.Context, q db.Querier, sql string, arg any) (*model.Client, error) {
	var c model.Client
	var status string
	err := q.QueryRow(ctx, sql, arg).Scan(&c.ID, &c.Name, &status)
	if db.IsNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "%v", arg)
	}
	if err != nil {
		return nil, eris.Wrap(err, "client: get")
	}
	c.Status = model.ClientStatus(status)
	return &c, nil
}
