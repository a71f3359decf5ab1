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

const maxCampaignNameLength = 200

// IssueRequest asks for Quantity new vouchers in the named campaign.
type IssueRequest struct {
	Quantity     int
	ExpiryDate   time.Time
	CampaignName string
	ExternalRef  string
}

// IssueResult holds the campaign after issuance and the new vouchers.
type IssueResult struct {
	Campaign *model.Campaign
	Vouchers []model.Voucher
}

// Issuer generates vouchers for a campaign in fixed-size atomic batches.
type Issuer struct {
	store  store.Store
	codes  *CodeGenerator
	cfg    config.VoucherConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewIssuer creates an Issuer
func NewIssuer(st store.Store, codes *CodeGenerator, cfg config.VoucherConfig, logger *zap.Logger) *Issuer {
	return &Issuer{
		store:  st,
		codes:  codes,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Issue creates req.Quantity vouchers. Batches are committed one by one; if
// one fails the remaining batches are skipped and a *PartialIssueError
// reports how many vouchers were committed before it.
func (s *Issuer) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	start := time.Now()
	result := "failure"
	defer func() {
		metrics.RecordIssueDuration(result, time.Since(start).Seconds())
	}()

	req.CampaignName = strings.TrimSpace(req.CampaignName)
	req.ExternalRef = strings.TrimSpace(req.ExternalRef)
	now := s.now()
	if err := s.validate(req, now); err != nil {
		return nil, err
	}

	campaign, err := s.store.GetOrCreateCampaign(ctx, model.NewCampaign{
		Name:        req.CampaignName,
		ExternalRef: req.ExternalRef,
		ExpiryDate:  req.ExpiryDate,
	})
	if err != nil {
		if errors.Is(err, store.ErrExternalRefTaken) {
			return nil, ErrExternalRefTaken
		}
		return nil, fmt.Errorf("failed to resolve campaign: %w", err)
	}

	issued := make([]model.Voucher, 0, req.Quantity)
	for offset := 0; offset < req.Quantity; offset += s.cfg.BatchSize {
		size := min(s.cfg.BatchSize, req.Quantity-offset)

		if err := ctx.Err(); err != nil {
			return nil, s.partial(campaign, issued, req.Quantity, err, &result)
		}

		batch, err := s.issueBatch(ctx, campaign.ID, req.ExpiryDate, now, offset, size)
		if err != nil {
			return nil, s.partial(campaign, issued, req.Quantity, err, &result)
		}
		issued = append(issued, batch...)
		metrics.IssuedVouchers.Add(float64(len(batch)))
	}

	// Every batch is committed at this point, so a failed reload must not
	// turn the call into an error the caller would retry.
	updated, err := s.store.GetCampaign(ctx, campaign.ID)
	if err != nil {
		s.logger.Warn("failed to reload campaign after issuing, returning local counters",
			zap.Int64("campaign_id", campaign.ID),
			zap.Error(err),
		)
		stale := *campaign
		stale.TotalVouchers += len(issued)
		updated = &stale
	}

	result = "success"
	s.logger.Info("vouchers issued",
		zap.Int64("campaign_id", campaign.ID),
		zap.String("campaign", campaign.Name),
		zap.Int("quantity", len(issued)),
	)
	return &IssueResult{Campaign: updated, Vouchers: issued}, nil
}

func (s *Issuer) validate(req IssueRequest, now time.Time) error {
	if req.Quantity < 1 || req.Quantity > s.cfg.MaxQuantity {
		return invalid("quantity", "must be between 1 and %d", s.cfg.MaxQuantity)
	}
	if req.CampaignName == "" {
		return invalid("campaignName", "is required")
	}
	if len(req.CampaignName) > maxCampaignNameLength {
		return invalid("campaignName", "must be at most %d characters", maxCampaignNameLength)
	}
	if req.ExpiryDate.IsZero() {
		return invalid("expiryDate", "is required")
	}
	if !req.ExpiryDate.After(now) {
		return invalid("expiryDate", "must be in the future")
	}
	return nil
}

// issueBatch generates and commits one batch, regenerating every code when
// the store reports a duplicate.
func (s *Issuer) issueBatch(ctx context.Context, campaignID int64, expiry, now time.Time, offset, size int) ([]model.Voucher, error) {
	for attempt := 0; ; attempt++ {
		batch, err := s.buildBatch(ctx, campaignID, expiry, now, offset, size)
		if err != nil {
			return nil, err
		}

		err = s.store.InsertBatch(ctx, campaignID, batch)
		if err == nil {
			return batch, nil
		}
		if !errors.Is(err, store.ErrDuplicateCode) {
			return nil, fmt.Errorf("failed to store batch: %w", err)
		}
		if attempt >= s.cfg.BatchRetries {
			return nil, fmt.Errorf("batch collided %d times: %w", attempt+1, ErrCodeExhaustion)
		}

		metrics.BatchRetries.Inc()
		s.logger.Warn("duplicate code on batch write, regenerating",
			zap.Int64("campaign_id", campaignID),
			zap.Int("offset", offset),
			zap.Int("attempt", attempt+1),
		)
	}
}

func (s *Issuer) buildBatch(ctx context.Context, campaignID int64, expiry, now time.Time, offset, size int) ([]model.Voucher, error) {
	reserved := make(map[string]struct{}, size)
	batch := make([]model.Voucher, size)
	for i := range batch {
		code, err := s.codes.GenerateExcluding(ctx, s.cfg.CodeLength, reserved)
		if err != nil {
			return nil, err
		}
		reserved[code] = struct{}{}
		batch[i] = model.Voucher{
			Code:       code,
			CampaignID: campaignID,
			Status:     model.StatusIssued,
			ExpiryDate: expiry,
			// Microsecond steps keep issue order stable in PostgreSQL timestamps.
			CreatedAt: now.Add(time.Duration(offset+i) * time.Microsecond),
		}
	}
	return batch, nil
}

func (s *Issuer) partial(campaign *model.Campaign, issued []model.Voucher, requested int, cause error, result *string) error {
	if len(issued) > 0 {
		*result = "partial"
	}
	s.logger.Error("bulk issuance stopped",
		zap.Int64("campaign_id", campaign.ID),
		zap.Int("committed", len(issued)),
		zap.Int("requested", requested),
		zap.Error(cause),
	)
	return &PartialIssueError{Committed: len(issued), Requested: requested, Err: cause}
}
