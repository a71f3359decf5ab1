package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/voucher/internal/metrics"
	"github.com/kkkkikiki/voucher/internal/model"
	"github.com/kkkkikiki/voucher/internal/store"
)

// Outcome is the definitive result of a redemption attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeAlreadyUsed Outcome = "already_used"
	OutcomeExpired     Outcome = "expired"
	OutcomeNotFound    Outcome = "not_found"
)

// RedeemResult carries the outcome and, unless the code is unknown, the
// voucher as it stands afterwards.
type RedeemResult struct {
	Outcome Outcome
	Voucher *model.Voucher
}

// RedemptionService consumes vouchers exactly once.
type RedemptionService struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRedemptionService creates a RedemptionService
func NewRedemptionService(st store.Store, logger *zap.Logger) *RedemptionService {
	return &RedemptionService{store: st, logger: logger, now: time.Now}
}

// NormalizeCode trims and upper-cases a user-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeem marks the voucher redeemed. Losing a race to a concurrent
// redemption yields OutcomeAlreadyUsed; it is never retried.
func (s *RedemptionService) Redeem(ctx context.Context, code string) (*RedeemResult, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, invalid("code", "is required")
	}

	res, err := s.redeem(ctx, code)
	if err != nil {
		metrics.RecordRedemption("error")
		return nil, err
	}
	metrics.RecordRedemption(string(res.Outcome))
	return res, nil
}

func (s *RedemptionService) redeem(ctx context.Context, code string) (*RedeemResult, error) {
	voucher, err := s.store.GetVoucher(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrVoucherNotFound) {
			return &RedeemResult{Outcome: OutcomeNotFound}, nil
		}
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}

	now := s.now()
	if voucher.IsRedeemed() {
		return &RedeemResult{Outcome: OutcomeAlreadyUsed, Voucher: voucher}, nil
	}
	if voucher.IsExpired(now) {
		return &RedeemResult{Outcome: OutcomeExpired, Voucher: voucher}, nil
	}

	updated, err := s.store.TryTransition(ctx, model.Transition{
		Code: code,
		From: voucher.Status,
		To:   model.StatusRedeemed,
		At:   now,
	})
	if !errors.Is(err, store.ErrTransitionConflict) {
		return s.settle(code, voucher, updated, err)
	}

	// A conflict is only a prior redemption when the row now says so. A
	// concurrent assignment keeps the voucher redeemable from its new status.
	current, err := s.store.GetVoucher(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrVoucherNotFound) {
			return &RedeemResult{Outcome: OutcomeNotFound}, nil
		}
		return nil, fmt.Errorf("failed to reload voucher: %w", err)
	}
	if current.IsRedeemed() || voucher.Status != model.StatusIssued || current.Status != model.StatusAssigned {
		s.logger.Debug("redemption lost race", zap.String("code", code))
		return &RedeemResult{Outcome: OutcomeAlreadyUsed, Voucher: current}, nil
	}

	s.logger.Debug("voucher assigned during redemption, retrying", zap.String("code", code))
	updated, err = s.store.TryTransition(ctx, model.Transition{
		Code: code,
		From: model.StatusAssigned,
		To:   model.StatusRedeemed,
		At:   now,
	})
	if errors.Is(err, store.ErrTransitionConflict) {
		// Only a redemption moves a voucher out of assigned.
		s.logger.Debug("redemption lost race", zap.String("code", code))
		return &RedeemResult{Outcome: OutcomeAlreadyUsed, Voucher: s.reload(ctx, code, current)}, nil
	}
	return s.settle(code, current, updated, err)
}

// settle maps the result of a redeeming transition onto an outcome.
func (s *RedemptionService) settle(code string, stale, updated *model.Voucher, err error) (*RedeemResult, error) {
	switch {
	case err == nil:
		s.logger.Info("voucher redeemed",
			zap.String("code", code),
			zap.Int64("campaign_id", updated.CampaignID),
		)
		return &RedeemResult{Outcome: OutcomeSuccess, Voucher: updated}, nil
	case errors.Is(err, store.ErrVoucherExpired):
		return &RedeemResult{Outcome: OutcomeExpired, Voucher: stale}, nil
	case errors.Is(err, store.ErrVoucherNotFound):
		return &RedeemResult{Outcome: OutcomeNotFound}, nil
	default:
		return nil, fmt.Errorf("failed to redeem voucher: %w", err)
	}
}

// reload returns the current voucher, falling back to the stale copy.
func (s *RedemptionService) reload(ctx context.Context, code string, stale *model.Voucher) *model.Voucher {
	current, err := s.store.GetVoucher(ctx, code)
	if err != nil {
		return stale
	}
	return current
}
