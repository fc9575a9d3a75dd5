// Package dimension finds or creates the campaign, strategy, placement,
// creative and region rows a fact references.
package dimension

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/model"
)

// PlaceholderCampaign is the per-client campaign that owns report API rows.
const PlaceholderCampaign = "General"

// lookup pairs the read and conditional insert for one entity kind. Both
// statements take the same arguments: the parent scope then the name.
type lookup struct {
	kind   string
	find   string
	insert string
}

var (
	campaignLookup = lookup{
		kind:   "campaign",
		find:   `SELECT id FROM campaigns WHERE client_id = $1 AND source = $2 AND name = $3`,
		insert: `INSERT INTO campaigns (client_id, source, name) VALUES ($1, $2, $3) ON CONFLICT (client_id, source, name) DO NOTHING RETURNING id`,
	}
	strategyLookup = lookup{
		kind:   "strategy",
		find:   `SELECT id FROM strategies WHERE campaign_id = $1 AND name = $2`,
		insert: `INSERT INTO strategies (campaign_id, name) VALUES ($1, $2) ON CONFLICT (campaign_id, name) DO NOTHING RETURNING id`,
	}
	placementLookup = lookup{
		kind:   "placement",
		find:   `SELECT id FROM placements WHERE strategy_id = $1 AND name = $2`,
		insert: `INSERT INTO placements (strategy_id, name) VALUES ($1, $2) ON CONFLICT (strategy_id, name) DO NOTHING RETURNING id`,
	}
	placementCreativeLookup = lookup{
		kind:   "creative",
		find:   `SELECT id FROM creatives WHERE placement_id = $1 AND name = $2`,
		insert: `INSERT INTO creatives (placement_id, name) VALUES ($1, $2) ON CONFLICT (placement_id, name) WHERE placement_id IS NOT NULL DO NOTHING RETURNING id`,
	}
	campaignCreativeLookup = lookup{
		kind:   "creative",
		find:   `SELECT id FROM creatives WHERE campaign_id = $1 AND name = $2`,
		insert: `INSERT INTO creatives (campaign_id, name) VALUES ($1, $2) ON CONFLICT (campaign_id, name) WHERE campaign_id IS NOT NULL DO NOTHING RETURNING id`,
	}
	regionLookup = lookup{
		kind:   "region",
		find:   `SELECT id FROM regions WHERE name = $1`,
		insert: `INSERT INTO regions (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`,
	}
)

// Resolver resolves dimension names to ids. It holds no state; every call
// goes through the Querier it is given so it can run inside a load transaction.
type Resolver struct{}

// New creates a Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Campaign resolves a campaign within (client, source).
func (r *Resolver) Campaign(ctx context.Context, q db.Querier, clientID uuid.UUID, src model.Source, name string) (int64, error) {
	return r.resolve(ctx, q, campaignLookup, clientID, string(src), name)
}

// Strategy resolves a strategy within its campaign.
func (r *Resolver) Strategy(ctx context.Context, q db.Querier, campaignID int64, name string) (int64, error) {
	return r.resolve(ctx, q, strategyLookup, campaignID, name)
}

// Placement resolves a placement within its strategy.
func (r *Resolver) Placement(ctx context.Context, q db.Querier, strategyID int64, name string) (int64, error) {
	return r.resolve(ctx, q, placementLookup, strategyID, name)
}

// CreativeUnderPlacement resolves a creative owned by a placement.
func (r *Resolver) CreativeUnderPlacement(ctx context.Context, q db.Querier, placementID int64, name string) (int64, error) {
	return r.resolve(ctx, q, placementCreativeLookup, placementID, name)
}

// CreativeUnderCampaign resolves a creative owned directly by a campaign.
func (r *Resolver) CreativeUnderCampaign(ctx context.Context, q db.Querier, campaignID int64, name string) (int64, error) {
	return r.resolve(ctx, q, campaignCreativeLookup, campaignID, name)
}

// Region resolves a region in the flat region namespace.
func (r *Resolver) Region(ctx context.Context, q db.Querier, name string) (int64, error) {
	return r.resolve(ctx, q, regionLookup, name)
}

// resolve reads the row, inserts it when missing, and re-reads when a
// concurrent writer won the insert.
func (r *Resolver) resolve(ctx context.Context, q db.Querier, l lookup, args ...any) (int64, error) {
	if name, _ := args[len(args)-1].(string); name == "" {
		return 0, eris.Errorf("dimension: empty %s name", l.kind)
	}

	var id int64
	err := q.QueryRow(ctx, l.find, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !db.IsNoRows(err) {
		return 0, eris.Wrapf(err, "dimension: find %s", l.kind)
	}

	err = q.QueryRow(ctx, l.insert, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !db.IsNoRows(err) {
		return 0, eris.Wrapf(err, "dimension: insert %s", l.kind)
	}

	if err := q.QueryRow(ctx, l.find, args...).Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "dimension: re-read %s after conflict", l.kind)
	}
	return id, nil
}
