package model

import (
	"database/sql"
	"time"
)

// Campaign represents a voucher campaign in the database
type Campaign struct {
	ID               int64          `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	ExternalRef      sql.NullString `db:"external_ref" json:"-"`
	ExpiryDate       time.Time      `db:"expiry_date" json:"expiry_date"`
	TotalVouchers    int            `db:"total_vouchers" json:"total_vouchers"`
	UsedVouchers     int            `db:"used_vouchers" json:"used_vouchers"`
	AssignedVouchers int            `db:"assigned_vouchers" json:"assigned_vouchers"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// NewCampaign carries the fields used to get-or-create a campaign.
type NewCampaign struct {
	Name        string
	ExternalRef string
	ExpiryDate  time.Time
}

// CampaignCounts is a full recount of a campaign's vouchers.
type CampaignCounts struct {
	Total     int `db:"total"`
	Used      int `db:"used"`
	Assigned  int `db:"assigned"`
	Available int `db:"available"`
	Expired   int `db:"expired"`
}

// Counters returns the stored denormalized counters.
func (c *Campaign) Counters() CampaignCounts {
	return CampaignCounts{
		Total:    c.TotalVouchers,
		Used:     c.UsedVouchers,
		Assigned: c.AssignedVouchers,
	}
}

// Drifted reports whether the stored counters disagree with a recount.
func (c *Campaign) Drifted(actual CampaignCounts) bool {
	return c.TotalVouchers != actual.Total ||
		c.UsedVouchers != actual.Used ||
		c.AssignedVouchers != actual.Assigned
}

// ExternalReference returns the external campaign reference or "".
func (c *Campaign) ExternalReference() string {
	if c.ExternalRef.Valid {
		return c.ExternalRef.String
	}
	return ""
}
