package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/voucher/internal/metrics"
	"github.com/kkkkikiki/voucher/internal/model"
	"github.com/kkkkikiki/voucher/internal/store"
)

// CampaignStats combines the stored counters with a live scan.
type CampaignStats struct {
	Campaign       *model.Campaign
	Available      int
	Expired        int
	RedemptionRate float64
}

// RecountResult compares the stored counters with a full recount.
type RecountResult struct {
	Before  model.CampaignCounts
	After   model.CampaignCounts
	Drifted bool
}

// PublicVoucher is the only voucher projection exposed without
// authentication.
type PublicVoucher struct {
	Code       string    `json:"code"`
	ExpiryDate time.Time `json:"expiryDate"`
	IsUsed     bool      `json:"isUsed"`
}

// CampaignService handles campaign reads and maintenance.
type CampaignService struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewCampaignService creates a CampaignService
func NewCampaignService(st store.Store, logger *zap.Logger) *CampaignService {
	return &CampaignService{store: st, logger: logger, now: time.Now}
}

func (s *CampaignService) Get(ctx context.Context, id int64) (*model.Campaign, error) {
	campaign, err := s.store.GetCampaign(ctx, id)
	return campaign, campaignErr(err)
}

func (s *CampaignService) List(ctx context.Context) ([]model.Campaign, error) {
	return s.store.ListCampaigns(ctx)
}

// ListVouchers returns the campaign's vouchers oldest first.
func (s *CampaignService) ListVouchers(ctx context.Context, id int64) ([]model.Voucher, error) {
	vouchers, err := s.store.ListVouchers(ctx, id)
	return vouchers, campaignErr(err)
}

// Stats reports the stored counters plus available and expired counts.
func (s *CampaignService) Stats(ctx context.Context, id int64) (*CampaignStats, error) {
	campaign, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, campaignErr(err)
	}
	counts, err := s.store.CountCampaign(ctx, id, s.now())
	if err != nil {
		return nil, campaignErr(err)
	}

	stats := &CampaignStats{
		Campaign:  campaign,
		Available: counts.Available,
		Expired:   counts.Expired,
	}
	if campaign.TotalVouchers > 0 {
		stats.RedemptionRate = float64(campaign.UsedVouchers) / float64(campaign.TotalVouchers)
	}
	return stats, nil
}

// Recount rebuilds the campaign counters from its vouchers.
func (s *CampaignService) Recount(ctx context.Context, id int64) (*RecountResult, error) {
	before, counts, err := s.store.RecountCampaign(ctx, id, s.now())
	if err != nil {
		return nil, campaignErr(err)
	}

	res := &RecountResult{
		Before:  before.Counters(),
		After:   counts,
		Drifted: before.Drifted(counts),
	}
	if res.Drifted {
		metrics.CounterDrift.Inc()
		s.logger.Warn("campaign counters drifted",
			zap.Int64("campaign_id", id),
			zap.Int("total_before", res.Before.Total),
			zap.Int("total_after", counts.Total),
			zap.Int("used_before", res.Before.Used),
			zap.Int("used_after", counts.Used),
			zap.Int("assigned_before", res.Before.Assigned),
			zap.Int("assigned_after", counts.Assigned),
		)
	}
	return res, nil
}

// Delete removes the campaign and its vouchers, returning how many
// vouchers were removed.
func (s *CampaignService) Delete(ctx context.Context, id int64) (int, error) {
	deleted, err := s.store.DeleteCampaign(ctx, id)
	if err != nil {
		return 0, campaignErr(err)
	}
	s.logger.Info("campaign deleted", zap.Int64("campaign_id", id), zap.Int("vouchers", deleted))
	return deleted, nil
}

// Lookup returns the public view of a voucher.
func (s *CampaignService) Lookup(ctx context.Context, code string) (*PublicVoucher, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, invalid("code", "is required")
	}

	voucher, err := s.store.GetVoucher(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrVoucherNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	return &PublicVoucher{
		Code:       voucher.Code,
		ExpiryDate: voucher.ExpiryDate,
		IsUsed:     voucher.IsRedeemed(),
	}, nil
}

// Ping checks the backing store.
func (s *CampaignService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func campaignErr(err error) error {
	if errors.Is(err, store.ErrCampaignNotFound) {
		return ErrCampaignNotFound
	}
	return err
}
