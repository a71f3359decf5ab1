package server

import (
	"context"
	"errors"
	"strconv"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	voucherv1 "github.com/kkkkikiki/voucher/api/voucher/v1"
	"github.com/kkkkikiki/voucher/api/voucher/v1/voucherv1connect"
	"github.com/kkkkikiki/voucher/internal/model"
	"github.com/kkkkikiki/voucher/internal/service"
)

// AdminServer implements the voucher.v1 admin API
type AdminServer struct {
	issuer    *service.Issuer
	redeemer  *service.RedemptionService
	assigner  *service.AssignmentService
	campaigns *service.CampaignService
	logger    *zap.Logger
	now       func() time.Time
}

var _ voucherv1connect.VoucherAdminServiceHandler = (*AdminServer)(nil)

// NewAdminServer creates a new AdminServer instance
func NewAdminServer(svc Services, logger *zap.Logger) *AdminServer {
	return &AdminServer{
		issuer:    svc.Issuer,
		redeemer:  svc.Redeemer,
		assigner:  svc.Assigner,
		campaigns: svc.Campaigns,
		logger:    logger,
		now:       time.Now,
	}
}

// IssueVouchers generates a batch of vouchers for a campaign
func (s *AdminServer) IssueVouchers(
	ctx context.Context,
	req *connect.Request[voucherv1.IssueVouchersRequest],
) (*connect.Response[voucherv1.IssueVouchersResponse], error) {
	res, err := s.issuer.Issue(ctx, service.IssueRequest{
		Quantity:     req.Msg.Quantity,
		ExpiryDate:   req.Msg.ExpiryDate,
		CampaignName: req.Msg.CampaignName,
		ExternalRef:  req.Msg.ExternalCampaignRef,
	})
	if err != nil {
		return nil, s.connectError(err)
	}

	now := s.now()
	vouchers := make([]voucherv1.Voucher, len(res.Vouchers))
	for i := range res.Vouchers {
		vouchers[i] = *toProtoVoucher(&res.Vouchers[i], now)
	}

	return connect.NewResponse(&voucherv1.IssueVouchersResponse{
		Campaign: toProtoCampaign(res.Campaign),
		Vouchers: vouchers,
	}), nil
}

// RedeemVoucher consumes a voucher. Every outcome is a successful response.
func (s *AdminServer) RedeemVoucher(
	ctx context.Context,
	req *connect.Request[voucherv1.RedeemVoucherRequest],
) (*connect.Response[voucherv1.RedeemVoucherResponse], error) {
	res, err := s.redeemer.Redeem(ctx, req.Msg.Code)
	if err != nil {
		return nil, s.connectError(err)
	}

	msg := &voucherv1.RedeemVoucherResponse{Outcome: string(res.Outcome)}
	if res.Voucher != nil {
		msg.Voucher = toProtoVoucher(res.Voucher, s.now())
	}
	return connect.NewResponse(msg), nil
}

// AssignVoucher gives an identity a voucher from a campaign
func (s *AdminServer) AssignVoucher(
	ctx context.Context,
	req *connect.Request[voucherv1.AssignVoucherRequest],
) (*connect.Response[voucherv1.AssignVoucherResponse], error) {
	res, err := s.assigner.Assign(ctx, req.Msg.CampaignRef, req.Msg.Identity)
	if err != nil {
		return nil, s.connectError(err)
	}
	return connect.NewResponse(&voucherv1.AssignVoucherResponse{
		Voucher:  toProtoVoucher(res.Voucher, s.now()),
		Existing: res.Existing,
	}), nil
}

// AssignCode binds a specific voucher to an identity
func (s *AdminServer) AssignCode(
	ctx context.Context,
	req *connect.Request[voucherv1.AssignCodeRequest],
) (*connect.Response[voucherv1.AssignVoucherResponse], error) {
	res, err := s.assigner.AssignCode(ctx, req.Msg.Code, req.Msg.Identity)
	if err != nil {
		return nil, s.connectError(err)
	}
	return connect.NewResponse(&voucherv1.AssignVoucherResponse{
		Voucher:  toProtoVoucher(res.Voucher, s.now()),
		Existing: res.Existing,
	}), nil
}

// GetCampaign gets campaign information
func (s *AdminServer) GetCampaign(
	ctx context.Context,
	req *connect.Request[voucherv1.GetCampaignRequest],
) (*connect.Response[voucherv1.GetCampaignResponse], error) {
	campaign, err := s.campaigns.Get(ctx, req.Msg.CampaignId)
	if err != nil {
		return nil, s.connectError(err)
	}
	return connect.NewResponse(&voucherv1.GetCampaignResponse{Campaign: toProtoCampaign(campaign)}), nil
}

// ListCampaigns lists campaigns newest first
func (s *AdminServer) ListCampaigns(
	ctx context.Context,
	req *connect.Request[voucherv1.ListCampaignsRequest],
) (*connect.Response[voucherv1.ListCampaignsResponse], error) {
	campaigns, err := s.campaigns.List(ctx)
	if err != nil {
		return nil, s.connectError(err)
	}

	out := make([]voucherv1.Campaign, len(campaigns))
	for i := range campaigns {
		out[i] = *toProtoCampaign(&campaigns[i])
	}
	return connect.NewResponse(&voucherv1.ListCampaignsResponse{Campaigns: out}), nil
}

// ListCampaignVouchers lists a campaign's vouchers oldest first
func (s *AdminServer) ListCampaignVouchers(
	ctx context.Context,
	req *connect.Request[voucherv1.ListCampaignVouchersRequest],
) (*connect.Response[voucherv1.ListCampaignVouchersResponse], error) {
	vouchers, err := s.campaigns.ListVouchers(ctx, req.Msg.CampaignId)
	if err != nil {
		return nil, s.connectError(err)
	}

	now := s.now()
	out := make([]voucherv1.Voucher, len(vouchers))
	for i := range vouchers {
		out[i] = *toProtoVoucher(&vouchers[i], now)
	}
	return connect.NewResponse(&voucherv1.ListCampaignVouchersResponse{Vouchers: out}), nil
}

// GetCampaignStats reports counters plus available and expired counts
func (s *AdminServer) GetCampaignStats(
	ctx context.Context,
	req *connect.Request[voucherv1.GetCampaignStatsRequest],
) (*connect.Response[voucherv1.GetCampaignStatsResponse], error) {
	stats, err := s.campaigns.Stats(ctx, req.Msg.CampaignId)
	if err != nil {
		return nil, s.connectError(err)
	}
	return connect.NewResponse(&voucherv1.GetCampaignStatsResponse{
		Campaign:       toProtoCampaign(stats.Campaign),
		Available:      stats.Available,
		Expired:        stats.Expired,
		RedemptionRate: stats.RedemptionRate,
	}), nil
}

// RecountCampaign rebuilds a campaign's counters from its vouchers
func (s *AdminServer) RecountCampaign(
	ctx context.Context,
	req *connect.Request[voucherv1.RecountCampaignRequest],
) (*connect.Response[voucherv1.RecountCampaignResponse], error) {
	res, err := s.campaigns.Recount(ctx, req.Msg.CampaignId)
	if err != nil {
		return nil, s.connectError(err)
	}
	return connect.NewResponse(&voucherv1.RecountCampaignResponse{
		Before:  toProtoCounters(res.Before),
		After:   toProtoCounters(res.After),
		Drifted: res.Drifted,
	}), nil
}

// DeleteCampaign removes a campaign and all its vouchers
func (s *AdminServer) DeleteCampaign(
	ctx context.Context,
	req *connect.Request[voucherv1.DeleteCampaignRequest],
) (*connect.Response[voucherv1.DeleteCampaignResponse], error) {
	deleted, err := s.campaigns.Delete(ctx, req.Msg.CampaignId)
	if err != nil {
		return nil, s.connectError(err)
	}
	return connect.NewResponse(&voucherv1.DeleteCampaignResponse{DeletedVouchers: deleted}), nil
}

// connectError maps service errors onto connect codes.
func (s *AdminServer) connectError(err error) error {
	var partial *service.PartialIssueError
	switch {
	case errors.As(err, &partial):
		code := connect.CodeAborted
		if errors.Is(err, service.ErrCodeExhaustion) {
			code = connect.CodeUnavailable
		}
		cerr := connect.NewError(code, err)
		cerr.Meta().Set(voucherv1connect.CommittedCountHeader, strconv.Itoa(partial.Committed))
		return cerr
	case errors.Is(err, service.ErrValidation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, service.ErrCampaignNotFound), errors.Is(err, service.ErrVoucherNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, service.ErrNoneAvailable):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, service.ErrNotAssignable):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, service.ErrExternalRefTaken):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, service.ErrCodeExhaustion):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		s.logger.Error("admin request failed", zap.Error(err))
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}

func toProtoVoucher(v *model.Voucher, now time.Time) *voucherv1.Voucher {
	out := &voucherv1.Voucher{
		Code:       v.Code,
		CampaignId: v.CampaignID,
		Status:     string(v.EffectiveStatus(now)),
		ExpiryDate: v.ExpiryDate,
		CreatedAt:  v.CreatedAt,
		AssignedTo: v.Assignee(),
	}
	if v.AssignedAt.Valid {
		at := v.AssignedAt.Time
		out.AssignedAt = &at
	}
	if v.RedeemedAt.Valid {
		at := v.RedeemedAt.Time
		out.RedeemedAt = &at
	}
	return out
}

func toProtoCampaign(c *model.Campaign) *voucherv1.Campaign {
	return &voucherv1.Campaign{
		Id:               c.ID,
		Name:             c.Name,
		ExternalRef:      c.ExternalReference(),
		ExpiryDate:       c.ExpiryDate,
		TotalVouchers:    c.TotalVouchers,
		UsedVouchers:     c.UsedVouchers,
		AssignedVouchers: c.AssignedVouchers,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func toProtoCounters(c model.CampaignCounts) voucherv1.Counters {
	return voucherv1.Counters{Total: c.Total, Used: c.Used, Assigned: c.Assigned}
}
