package model

import (
	"database/sql"
	"time"
)

// VoucherStatus is the stored lifecycle state of a voucher.
type VoucherStatus string

const (
	StatusIssued   VoucherStatus = "issued"
	StatusAssigned VoucherStatus = "assigned"
	StatusRedeemed VoucherStatus = "redeemed"

	// StatusExpired is never stored. It is derived from ExpiryDate.
	StatusExpired VoucherStatus = "expired"
)

// Voucher represents an issued voucher in the database
type Voucher struct {
	Code       string         `db:"code" json:"code"`
	CampaignID int64          `db:"campaign_id" json:"campaign_id"`
	Status     VoucherStatus  `db:"status" json:"status"`
	ExpiryDate time.Time      `db:"expiry_date" json:"expiry_date"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	AssignedTo sql.NullString `db:"assigned_to" json:"-"`
	AssignedAt sql.NullTime   `db:"assigned_at" json:"-"`
	RedeemedAt sql.NullTime   `db:"redeemed_at" json:"-"`
}

// IsExpired reports whether the voucher expired before now.
func (v *Voucher) IsExpired(now time.Time) bool {
	return v.ExpiryDate.Before(now)
}

// IsRedeemed reports whether the voucher has been consumed.
func (v *Voucher) IsRedeemed() bool {
	return v.Status == StatusRedeemed
}

// EffectiveStatus folds expiry into the stored status. A redeemed voucher
// stays redeemed after its expiry date.
func (v *Voucher) EffectiveStatus(now time.Time) VoucherStatus {
	if v.Status != StatusRedeemed && v.IsExpired(now) {
		return StatusExpired
	}
	return v.Status
}

// Assignee returns the external identity the voucher is bound to, or "".
func (v *Voucher) Assignee() string {
	if v.AssignedTo.Valid {
		return v.AssignedTo.String
	}
	return ""
}

// CanTransition reports whether from -> to is an allowed lifecycle move.
func CanTransition(from, to VoucherStatus) bool {
	switch {
	case from == StatusIssued && to == StatusAssigned:
		return true
	case from == StatusIssued && to == StatusRedeemed:
		return true
	case from == StatusAssigned && to == StatusRedeemed:
		return true
	}
	return false
}

// Transition is a compare-and-swap request on a voucher's status.
type Transition struct {
	Code       string
	From       VoucherStatus
	To         VoucherStatus
	At         time.Time
	AssignedTo string // required when To is StatusAssigned
}
