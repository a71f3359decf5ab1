package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kkkkikiki/voucher/internal/model"
)

const voucherColumns = `code, campaign_id, status, expiry_date, created_at, assigned_to, assigned_at, redeemed_at`

// VoucherRepository handles voucher data operations
type VoucherRepository struct{}

// NewVoucherRepository creates a new voucher repository
func NewVoucherRepository() *VoucherRepository {
	return &VoucherRepository{}
}

// CodeExists reports whether the code was ever issued, including codes whose
// campaign has since been deleted.
func (r *VoucherRepository) CodeExists(ctx context.Context, db DBExecutor, code string) (bool, error) {
	var exists bool
	if err := db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM issued_codes WHERE code = $1)`, code); err != nil {
		return false, fmt.Errorf("failed to check code: %w", err)
	}
	return exists, nil
}

// InsertBatch writes the codes to the ledger and the vouchers to their table
// using one multi-row statement each. Callers wrap it in a transaction.
func (r *VoucherRepository) InsertBatch(ctx context.Context, db DBExecutor, vouchers []model.Voucher) error {
	if len(vouchers) == 0 {
		return nil
	}

	ledgerValues := make([]string, len(vouchers))
	ledgerArgs := make([]interface{}, 0, len(vouchers)*2)
	for i, v := range vouchers {
		ledgerValues[i] = fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2)
		ledgerArgs = append(ledgerArgs, v.Code, v.CreatedAt)
	}

	ledgerQuery := fmt.Sprintf(`
		INSERT INTO issued_codes (code, issued_at)
		VALUES %s
	`, strings.Join(ledgerValues, ", "))

	if _, err := db.ExecContext(ctx, ledgerQuery, ledgerArgs...); err != nil {
		return fmt.Errorf("failed to execute ledger insert: %w", err)
	}

	// VALUES clause built per row
	valuesClause := make([]string, len(vouchers))
	args := make([]interface{}, 0, len(vouchers)*5)

	for i, v := range vouchers {
		valuesClause[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			i*5+1, i*5+2, i*5+3, i*5+4, i*5+5)
		args = append(args, v.Code, v.CampaignID, string(v.Status), v.ExpiryDate, v.CreatedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO vouchers (code, campaign_id, status, expiry_date, created_at)
		VALUES %s
	`, strings.Join(valuesClause, ", "))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute batch insert: %w", err)
	}

	return nil
}

// GetVoucher retrieves a voucher by code
func (r *VoucherRepository) GetVoucher(ctx context.Context, db DBExecutor, code string) (*model.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = $1`

	var voucher model.Voucher
	if err := db.GetContext(ctx, &voucher, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	return &voucher, nil
}

// Transition moves a voucher from t.From to t.To if, and only if, it is
// still in t.From and has not expired at t.At. It returns the voucher's
// campaign so the caller can adjust counters in the same transaction.
func (r *VoucherRepository) Transition(ctx context.Context, db DBExecutor, t model.Transition) (int64, error) {
	var query string
	var args []interface{}

	switch t.To {
	case model.StatusRedeemed:
		query = `
			UPDATE vouchers
			SET status = 'redeemed', redeemed_at = $1
			WHERE code = $2 AND status = $3 AND expiry_date >= $1
			RETURNING campaign_id
		`
		args = []interface{}{t.At, t.Code, string(t.From)}
	case model.StatusAssigned:
		query = `
			UPDATE vouchers
			SET status = 'assigned', assigned_to = $1, assigned_at = $2
			WHERE code = $3 AND status = $4 AND assigned_to IS NULL AND expiry_date >= $2
			RETURNING campaign_id
		`
		args = []interface{}{t.AssignedTo, t.At, t.Code, string(t.From)}
	default:
		return 0, fmt.Errorf("unsupported target status %q", t.To)
	}

	var campaignID int64
	if err := db.GetContext(ctx, &campaignID, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotApplied
		}
		return 0, fmt.Errorf("failed to transition voucher: %w", err)
	}
	return campaignID, nil
}

// ListByCampaign returns every voucher of a campaign, oldest first
func (r *VoucherRepository) ListByCampaign(ctx context.Context, db DBExecutor, campaignID int64) ([]model.Voucher, error) {
	query := `
		SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE campaign_id = $1
		ORDER BY created_at ASC, code ASC
	`

	var vouchers []model.Voucher
	if err := db.SelectContext(ctx, &vouchers, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	return vouchers, nil
}

// FindAssigned returns the voucher bound to identity in a campaign, whether
// still assigned or already redeemed.
func (r *VoucherRepository) FindAssigned(ctx context.Context, db DBExecutor, campaignID int64, identity string) (*model.Voucher, error) {
	query := `
		SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE campaign_id = $1 AND assigned_to = $2
		LIMIT 1
	`

	var voucher model.Voucher
	if err := db.GetContext(ctx, &voucher, query, campaignID, identity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find assigned voucher: %w", err)
	}
	return &voucher, nil
}

// ListAssignable returns up to limit unassigned, unexpired, issued vouchers
// oldest first. The list is only a set of candidates: each one is still
// claimed through Transition.
func (r *VoucherRepository) ListAssignable(ctx context.Context, db DBExecutor, campaignID int64, now time.Time, limit int) ([]model.Voucher, error) {
	query := `
		SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE campaign_id = $1 AND status = 'issued' AND assigned_to IS NULL AND expiry_date >= $2
		ORDER BY created_at ASC, code ASC
		LIMIT $3
	`

	var vouchers []model.Voucher
	if err := db.SelectContext(ctx, &vouchers, query, campaignID, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list assignable vouchers: %w", err)
	}
	return vouchers, nil
}

// DeleteByCampaign removes all vouchers of a campaign. Ledger rows are kept.
func (r *VoucherRepository) DeleteByCampaign(ctx context.Context, db DBExecutor, campaignID int64) (int, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM vouchers WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vouchers: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}
