package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("row not found")
	// ErrNotApplied is returned when a conditional write matched no row.
	ErrNotApplied = errors.New("conditional write not applied")
)

// Constraint names from schema/001_init.sql. campaigns_name_key is the
// arbiter of UpsertCampaign and never surfaces as a violation.
const (
	ConstraintVoucherCode      = "vouchers_pkey"
	ConstraintIssuedCode       = "issued_codes_pkey"
	ConstraintVoucherAssignee  = "vouchers_campaign_assignee_key"
	ConstraintCampaignExternal = "campaigns_external_ref_key"
)

const uniqueViolation = "23505"

// UniqueViolation returns the violated constraint when err is a PostgreSQL
// unique_violation.
func UniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
