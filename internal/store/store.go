// Package store is the authoritative voucher and campaign state. Every
// method is atomic on its own: a voucher transition and its campaign counter
// delta commit together, as do a batch insert and its total bump.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kkkkikiki/voucher/internal/model"
)

var (
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrVoucherNotFound    = errors.New("voucher not found")
	ErrDuplicateCode      = errors.New("voucher code already issued")
	ErrTransitionConflict = errors.New("voucher status changed concurrently")
	ErrVoucherExpired     = errors.New("voucher expired")
	ErrIdentityAssigned   = errors.New("identity already holds a voucher in this campaign")
	ErrExternalRefTaken   = errors.New("external campaign reference belongs to another campaign")
	ErrInvalidTransition  = errors.New("invalid voucher status transition")
)

// Store is implemented by the PostgreSQL and in-memory backends.
type Store interface {
	// GetOrCreateCampaign returns the campaign named nc.Name, creating it
	// when absent. An existing campaign without an external reference
	// adopts nc.ExternalRef.
	GetOrCreateCampaign(ctx context.Context, nc model.NewCampaign) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	// FindCampaign resolves an external reference, then a name, then a
	// numeric id.
	FindCampaign(ctx context.Context, ref string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	// CountCampaign scans the campaign's vouchers without writing anything.
	CountCampaign(ctx context.Context, id int64, now time.Time) (model.CampaignCounts, error)
	// RecountCampaign overwrites the counters from a full scan and returns
	// the campaign as it was before the repair together with the scan.
	RecountCampaign(ctx context.Context, id int64, now time.Time) (*model.Campaign, model.CampaignCounts, error)
	// DeleteCampaign removes the campaign and all its vouchers, returning
	// how many vouchers went with it. Issued codes stay reserved.
	DeleteCampaign(ctx context.Context, id int64) (int, error)

	// CodeExists reports whether code was ever issued.
	CodeExists(ctx context.Context, code string) (bool, error)
	// InsertBatch stores all vouchers and bumps the campaign total by
	// len(vouchers), or stores nothing. A code collision yields
	// ErrDuplicateCode.
	InsertBatch(ctx context.Context, campaignID int64, vouchers []model.Voucher) error
	// TryTransition is a compare-and-swap on status. It fails with
	// ErrVoucherNotFound, ErrVoucherExpired, ErrTransitionConflict or
	// ErrIdentityAssigned without writing anything.
	TryTransition(ctx context.Context, t model.Transition) (*model.Voucher, error)
	GetVoucher(ctx context.Context, code string) (*model.Voucher, error)
	ListVouchers(ctx context.Context, campaignID int64) ([]model.Voucher, error)
	FindAssignedVoucher(ctx context.Context, campaignID int64, identity string) (*model.Voucher, error)
	ListAssignable(ctx context.Context, campaignID int64, now time.Time, limit int) ([]model.Voucher, error)

	Ping(ctx context.Context) error
}

func validateTransition(t model.Transition) error {
	if !model.CanTransition(t.From, t.To) {
		return ErrInvalidTransition
	}
	if t.To == model.StatusAssigned && t.AssignedTo == "" {
		return ErrInvalidTransition
	}
	return nil
}

// counterDelta is the (used, assigned) change caused by a transition.
func counterDelta(t model.Transition) (used, assigned int) {
	switch t.To {
	case model.StatusRedeemed:
		return 1, 0
	case model.StatusAssigned:
		return 0, 1
	}
	return 0, 0
}
