package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/voucher/internal/config"
	"github.com/kkkkikiki/voucher/internal/metrics"
	"github.com/kkkkikiki/voucher/internal/model"
	"github.com/kkkkikiki/voucher/internal/store"
)

// AssignResult is the voucher bound to an identity. Existing is true when
// the identity already held it before this call.
type AssignResult struct {
	Voucher  *model.Voucher
	Existing bool
}

// AssignmentService binds unassigned vouchers to external identities, at
// most one per identity and campaign.
type AssignmentService struct {
	store  store.Store
	cfg    config.VoucherConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewAssignmentService creates an AssignmentService
func NewAssignmentService(st store.Store, cfg config.VoucherConfig, logger *zap.Logger) *AssignmentService {
	return &AssignmentService{store: st, cfg: cfg, logger: logger, now: time.Now}
}

// NormalizeIdentity trims and lower-cases an identity such as an email.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Assign gives identity the oldest available voucher of the campaign
// resolved from campaignRef, or returns the one it already holds.
func (s *AssignmentService) Assign(ctx context.Context, campaignRef, identity string) (*AssignResult, error) {
	campaignRef = strings.TrimSpace(campaignRef)
	identity = NormalizeIdentity(identity)
	if campaignRef == "" {
		return nil, invalid("campaignRef", "is required")
	}
	if identity == "" {
		return nil, invalid("identity", "is required")
	}

	campaign, err := s.store.FindCampaign(ctx, campaignRef)
	if err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to resolve campaign: %w", err)
	}

	res, err := s.assign(ctx, campaign.ID, identity)
	s.record(res, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("voucher assigned",
		zap.Int64("campaign_id", campaign.ID),
		zap.String("code", res.Voucher.Code),
		zap.Bool("existing", res.Existing),
	)
	return res, nil
}

func (s *AssignmentService) assign(ctx context.Context, campaignID int64, identity string) (*AssignResult, error) {
	if res, err := s.existing(ctx, campaignID, identity); res != nil || err != nil {
		return res, err
	}

	for round := 0; round < s.cfg.AssignAttempts; round++ {
		now := s.now()
		candidates, err := s.store.ListAssignable(ctx, campaignID, now, s.cfg.AssignCandidates)
		if err != nil {
			return nil, fmt.Errorf("failed to list assignable vouchers: %w", err)
		}
		if len(candidates) == 0 {
			return nil, ErrNoneAvailable
		}

		for _, candidate := range candidates {
			voucher, err := s.store.TryTransition(ctx, model.Transition{
				Code:       candidate.Code,
				From:       model.StatusIssued,
				To:         model.StatusAssigned,
				At:         now,
				AssignedTo: identity,
			})
			switch {
			case err == nil:
				return &AssignResult{Voucher: voucher}, nil
			case errors.Is(err, store.ErrIdentityAssigned):
				// A concurrent delivery for the same identity won.
				return s.winner(ctx, campaignID, identity)
			case errors.Is(err, store.ErrTransitionConflict),
				errors.Is(err, store.ErrVoucherExpired),
				errors.Is(err, store.ErrVoucherNotFound):
				continue
			default:
				return nil, fmt.Errorf("failed to assign voucher: %w", err)
			}
		}
		s.logger.Debug("all candidates taken, reselecting",
			zap.Int64("campaign_id", campaignID),
			zap.Int("round", round+1),
		)
	}
	return nil, ErrNoneAvailable
}

// AssignCode binds a specific voucher to identity. If identity already holds
// a voucher in that campaign, that voucher is returned instead.
func (s *AssignmentService) AssignCode(ctx context.Context, code, identity string) (*AssignResult, error) {
	code = NormalizeCode(code)
	identity = NormalizeIdentity(identity)
	if code == "" {
		return nil, invalid("code", "is required")
	}
	if identity == "" {
		return nil, invalid("identity", "is required")
	}

	res, err := s.assignCode(ctx, code, identity)
	s.record(res, err)
	return res, err
}

func (s *AssignmentService) assignCode(ctx context.Context, code, identity string) (*AssignResult, error) {
	voucher, err := s.store.GetVoucher(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrVoucherNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}

	if res, err := s.existing(ctx, voucher.CampaignID, identity); res != nil || err != nil {
		return res, err
	}

	now := s.now()
	if voucher.Status != model.StatusIssued || voucher.AssignedTo.Valid {
		return nil, fmt.Errorf("%w: voucher is %s", ErrNotAssignable, voucher.EffectiveStatus(now))
	}

	updated, err := s.store.TryTransition(ctx, model.Transition{
		Code:       code,
		From:       model.StatusIssued,
		To:         model.StatusAssigned,
		At:         now,
		AssignedTo: identity,
	})
	switch {
	case err == nil:
		return &AssignResult{Voucher: updated}, nil
	case errors.Is(err, store.ErrIdentityAssigned):
		return s.winner(ctx, voucher.CampaignID, identity)
	case errors.Is(err, store.ErrVoucherExpired):
		return nil, fmt.Errorf("%w: voucher is expired", ErrNotAssignable)
	case errors.Is(err, store.ErrTransitionConflict):
		return nil, fmt.Errorf("%w: voucher was taken concurrently", ErrNotAssignable)
	case errors.Is(err, store.ErrVoucherNotFound):
		return nil, ErrVoucherNotFound
	default:
		return nil, fmt.Errorf("failed to assign voucher: %w", err)
	}
}

// existing returns the voucher identity already holds in the campaign, or
// nil when it holds none.
func (s *AssignmentService) existing(ctx context.Context, campaignID int64, identity string) (*AssignResult, error) {
	voucher, err := s.store.FindAssignedVoucher(ctx, campaignID, identity)
	if err != nil {
		if errors.Is(err, store.ErrVoucherNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up existing assignment: %w", err)
	}
	return &AssignResult{Voucher: voucher, Existing: true}, nil
}

// winner returns the voucher a concurrent call bound to identity.
func (s *AssignmentService) winner(ctx context.Context, campaignID int64, identity string) (*AssignResult, error) {
	res, err := s.existing(ctx, campaignID, identity)
	if err == nil && res == nil {
		return nil, fmt.Errorf("concurrent assignment not visible: %w", store.ErrIdentityAssigned)
	}
	return res, err
}

func (s *AssignmentService) record(res *AssignResult, err error) {
	switch {
	case errors.Is(err, ErrNoneAvailable):
		metrics.RecordAssignment("none_available")
	case err != nil:
		metrics.RecordAssignment("error")
	case res.Existing:
		metrics.RecordAssignment("existing")
	default:
		metrics.RecordAssignment("assigned")
	}
}
