package dimension

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/model"
)

// Hierarchy resolves every dimension a row references, in parent-first
// order, following the shape of the row's source.
func (r *Resolver) Hierarchy(ctx context.Context, q db.Querier, clientID uuid.UUID, src model.Source, row model.Row) (model.DimensionIDs, error) {
	var ids model.DimensionIDs
	var err error

	switch src {
	case model.SourceSurfside:
		ids, err = r.chain(ctx, q, clientID, src, row.Campaign, row)
	case model.SourceVibe:
		ids, err = r.chain(ctx, q, clientID, src, PlaceholderCampaign, row)
	case model.SourceFacebook:
		ids, err = r.campaignCreative(ctx, q, clientID, src, row)
	default:
		return ids, eris.Wrapf(model.ErrUnknownSource, "dimension: %q", src)
	}
	if err != nil {
		return ids, err
	}

	if row.Region != "" {
		regionID, err := r.Region(ctx, q, row.Region)
		if err != nil {
			return ids, err
		}
		ids.RegionID = &regionID
	}
	return ids, nil
}

// chain resolves campaign -> strategy -> placement -> creative.
func (r *Resolver) chain(ctx context.Context, q db.Querier, clientID uuid.UUID, src model.Source, campaign string, row model.Row) (model.DimensionIDs, error) {
	var ids model.DimensionIDs

	campaignID, err := r.Campaign(ctx, q, clientID, src, campaign)
	if err != nil {
		return ids, err
	}
	strategyID, err := r.Strategy(ctx, q, campaignID, row.Strategy)
	if err != nil {
		return ids, err
	}
	placementID, err := r.Placement(ctx, q, strategyID, row.Placement)
	if err != nil {
		return ids, err
	}
	creativeID, err := r.CreativeUnderPlacement(ctx, q, placementID, row.Creative)
	if err != nil {
		return ids, err
	}

	ids.CampaignID = &campaignID
	ids.StrategyID = &strategyID
	ids.PlacementID = &placementID
	ids.CreativeID = creativeID
	return ids, nil
}

// campaignCreative resolves campaign -> creative with no strategy or placement.
func (r *Resolver) campaignCreative(ctx context.Context, q db.Querier, clientID uuid.UUID, src model.Source, row model.Row) (model.DimensionIDs, error) {
	var ids model.DimensionIDs

	campaignID, err := r.Campaign(ctx, q, clientID, src, row.Campaign)
	if err != nil {
		return ids, err
	}
	creativeID, err := r.CreativeUnderCampaign(ctx, q, campaignID, row.Creative)
	if err != nil {
		return ids, err
	}

	ids.CampaignID = &campaignID
	ids.CreativeID = creativeID
	return ids, nil
}
