package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kkkkikiki/voucher/internal/model"
)

const campaignColumns = `id, name, external_ref, expiry_date, total_vouchers, used_vouchers,
	assigned_vouchers, created_at, updated_at`

// CampaignRepository handles campaign data operations
type CampaignRepository struct{}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository() *CampaignRepository {
	return &CampaignRepository{}
}

// UpsertCampaign returns the campaign with the given name, creating it if
// needed. An existing campaign without an external reference adopts the one
// supplied; an existing reference is never overwritten.
func (r *CampaignRepository) UpsertCampaign(ctx context.Context, db DBExecutor, nc model.NewCampaign) (*model.Campaign, error) {
	query := `
		INSERT INTO campaigns (name, external_ref, expiry_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO UPDATE
		SET external_ref = COALESCE(campaigns.external_ref, EXCLUDED.external_ref),
		    updated_at = CASE
		        WHEN campaigns.external_ref IS NULL AND EXCLUDED.external_ref IS NOT NULL
		        THEN EXCLUDED.updated_at
		        ELSE campaigns.updated_at
		    END
		RETURNING ` + campaignColumns

	ref := sql.NullString{String: nc.ExternalRef, Valid: nc.ExternalRef != ""}

	var campaign model.Campaign
	if err := db.GetContext(ctx, &campaign, query, nc.Name, ref, nc.ExpiryDate, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to upsert campaign: %w", err)
	}
	return &campaign, nil
}

// GetCampaign retrieves a campaign by ID
func (r *CampaignRepository) GetCampaign(ctx context.Context, db DBExecutor, id int64) (*model.Campaign, error) {
	return r.getOne(ctx, db, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
}

// LockCampaign retrieves a campaign and holds its row lock until the
// surrounding transaction ends
func (r *CampaignRepository) LockCampaign(ctx context.Context, db DBExecutor, id int64) (*model.Campaign, error) {
	return r.getOne(ctx, db, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 FOR UPDATE`, id)
}

// GetCampaignByName retrieves a campaign by its unique name
func (r *CampaignRepository) GetCampaignByName(ctx context.Context, db DBExecutor, name string) (*model.Campaign, error) {
	return r.getOne(ctx, db, `SELECT `+campaignColumns+` FROM campaigns WHERE name = $1`, name)
}

// GetCampaignByExternalRef retrieves a campaign by its external reference
func (r *CampaignRepository) GetCampaignByExternalRef(ctx context.Context, db DBExecutor, ref string) (*model.Campaign, error) {
	return r.getOne(ctx, db, `SELECT `+campaignColumns+` FROM campaigns WHERE external_ref = $1`, ref)
}

func (r *CampaignRepository) getOne(ctx context.Context, db DBExecutor, query string, arg interface{}) (*model.Campaign, error) {
	var campaign model.Campaign
	err := db.GetContext(ctx, &campaign, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &campaign, nil
}

// ListCampaigns returns all campaigns, newest first
func (r *CampaignRepository) ListCampaigns(ctx context.Context, db DBExecutor) ([]model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns ORDER BY created_at DESC, id DESC`

	var campaigns []model.Campaign
	if err := db.SelectContext(ctx, &campaigns, query); err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// IncrementCounters applies counter deltas in a single update
func (r *CampaignRepository) IncrementCounters(ctx context.Context, db DBExecutor, id int64, total, used, assigned int) error {
	query := `
		UPDATE campaigns
		SET total_vouchers = total_vouchers + $1,
		    used_vouchers = used_vouchers + $2,
		    assigned_vouchers = assigned_vouchers + $3,
		    updated_at = $4
		WHERE id = $5
	`

	result, err := db.ExecContext(ctx, query, total, used, assigned, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to increment campaign counters: %w", err)
	}
	return requireOneRow(result)
}

// SetCounters overwrites the counters with recounted values
func (r *CampaignRepository) SetCounters(ctx context.Context, db DBExecutor, id int64, counts model.CampaignCounts) error {
	query := `
		UPDATE campaigns
		SET total_vouchers = $1, used_vouchers = $2, assigned_vouchers = $3, updated_at = $4
		WHERE id = $5
	`

	result, err := db.ExecContext(ctx, query, counts.Total, counts.Used, counts.Assigned, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set campaign counters: %w", err)
	}
	return requireOneRow(result)
}

// CountVouchers scans the campaign's vouchers and counts them by state
func (r *CampaignRepository) CountVouchers(ctx context.Context, db DBExecutor, id int64, now time.Time) (model.CampaignCounts, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'redeemed') AS used,
			COUNT(*) FILTER (WHERE assigned_to IS NOT NULL) AS assigned,
			COUNT(*) FILTER (WHERE status = 'issued' AND assigned_to IS NULL AND expiry_date >= $2) AS available,
			COUNT(*) FILTER (WHERE status <> 'redeemed' AND expiry_date < $2) AS expired
		FROM vouchers
		WHERE campaign_id = $1
	`

	var counts model.CampaignCounts
	if err := db.GetContext(ctx, &counts, query, id, now); err != nil {
		return model.CampaignCounts{}, fmt.Errorf("failed to count vouchers: %w", err)
	}
	return counts, nil
}

// DeleteCampaign deletes the campaign row; its vouchers must already be gone
func (r *CampaignRepository) DeleteCampaign(ctx context.Context, db DBExecutor, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if err := requireOneRow(result); err != nil {
		if errors.Is(err, ErrNotApplied) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func requireOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotApplied
	}
	return nil
}
