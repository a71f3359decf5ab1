// Package voucherv1connect wires the voucher.v1 admin API to connect
// handlers and clients.
package voucherv1connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	voucherv1 "github.com/kkkkikiki/voucher/api/voucher/v1"
)

// VoucherAdminServiceName is the fully-qualified name of the admin service.
const VoucherAdminServiceName = "voucher.v1.VoucherAdminService"

const (
	VoucherAdminServiceIssueVouchersProcedure        = "/voucher.v1.VoucherAdminService/IssueVouchers"
	VoucherAdminServiceRedeemVoucherProcedure        = "/voucher.v1.VoucherAdminService/RedeemVoucher"
	VoucherAdminServiceAssignVoucherProcedure        = "/voucher.v1.VoucherAdminService/AssignVoucher"
	VoucherAdminServiceAssignCodeProcedure           = "/voucher.v1.VoucherAdminService/AssignCode"
	VoucherAdminServiceGetCampaignProcedure          = "/voucher.v1.VoucherAdminService/GetCampaign"
	VoucherAdminServiceListCampaignsProcedure        = "/voucher.v1.VoucherAdminService/ListCampaigns"
	VoucherAdminServiceListCampaignVouchersProcedure = "/voucher.v1.VoucherAdminService/ListCampaignVouchers"
	VoucherAdminServiceGetCampaignStatsProcedure     = "/voucher.v1.VoucherAdminService/GetCampaignStats"
	VoucherAdminServiceRecountCampaignProcedure      = "/voucher.v1.VoucherAdminService/RecountCampaign"
	VoucherAdminServiceDeleteCampaignProcedure       = "/voucher.v1.VoucherAdminService/DeleteCampaign"
)

// CommittedCountHeader carries the number of durably issued vouchers on an
// aborted IssueVouchers call.
const CommittedCountHeader = "Committed-Count"

// codecOptions swaps connect's protobuf JSON codecs for the plain JSON one.
func codecOptions() []connect.Option {
	return []connect.Option{
		connect.WithCodec(voucherv1.JSONCodec{}),
		connect.WithCodec(voucherv1.JSONCodec{CharsetUTF8: true}),
	}
}

// VoucherAdminServiceHandler is implemented by the admin server.
type VoucherAdminServiceHandler interface {
	IssueVouchers(context.Context, *connect.Request[voucherv1.IssueVouchersRequest]) (*connect.Response[voucherv1.IssueVouchersResponse], error)
	RedeemVoucher(context.Context, *connect.Request[voucherv1.RedeemVoucherRequest]) (*connect.Response[voucherv1.RedeemVoucherResponse], error)
	AssignVoucher(context.Context, *connect.Request[voucherv1.AssignVoucherRequest]) (*connect.Response[voucherv1.AssignVoucherResponse], error)
	AssignCode(context.Context, *connect.Request[voucherv1.AssignCodeRequest]) (*connect.Response[voucherv1.AssignVoucherResponse], error)
	GetCampaign(context.Context, *connect.Request[voucherv1.GetCampaignRequest]) (*connect.Response[voucherv1.GetCampaignResponse], error)
	ListCampaigns(context.Context, *connect.Request[voucherv1.ListCampaignsRequest]) (*connect.Response[voucherv1.ListCampaignsResponse], error)
	ListCampaignVouchers(context.Context, *connect.Request[voucherv1.ListCampaignVouchersRequest]) (*connect.Response[voucherv1.ListCampaignVouchersResponse], error)
	GetCampaignStats(context.Context, *connect.Request[voucherv1.GetCampaignStatsRequest]) (*connect.Response[voucherv1.GetCampaignStatsResponse], error)
	RecountCampaign(context.Context, *connect.Request[voucherv1.RecountCampaignRequest]) (*connect.Response[voucherv1.RecountCampaignResponse], error)
	DeleteCampaign(context.Context, *connect.Request[voucherv1.DeleteCampaignRequest]) (*connect.Response[voucherv1.DeleteCampaignResponse], error)
}

// NewVoucherAdminServiceHandler builds an HTTP handler for every admin
// procedure and returns the path prefix to mount it on.
func NewVoucherAdminServiceHandler(svc VoucherAdminServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	for _, o := range codecOptions() {
		opts = append(opts, o)
	}

	handlers := map[string]http.Handler{
		VoucherAdminServiceIssueVouchersProcedure:        connect.NewUnaryHandler(VoucherAdminServiceIssueVouchersProcedure, svc.IssueVouchers, opts...),
		VoucherAdminServiceRedeemVoucherProcedure:        connect.NewUnaryHandler(VoucherAdminServiceRedeemVoucherProcedure, svc.RedeemVoucher, opts...),
		VoucherAdminServiceAssignVoucherProcedure:        connect.NewUnaryHandler(VoucherAdminServiceAssignVoucherProcedure, svc.AssignVoucher, opts...),
		VoucherAdminServiceAssignCodeProcedure:           connect.NewUnaryHandler(VoucherAdminServiceAssignCodeProcedure, svc.AssignCode, opts...),
		VoucherAdminServiceGetCampaignProcedure:          connect.NewUnaryHandler(VoucherAdminServiceGetCampaignProcedure, svc.GetCampaign, opts...),
		VoucherAdminServiceListCampaignsProcedure:        connect.NewUnaryHandler(VoucherAdminServiceListCampaignsProcedure, svc.ListCampaigns, opts...),
		VoucherAdminServiceListCampaignVouchersProcedure: connect.NewUnaryHandler(VoucherAdminServiceListCampaignVouchersProcedure, svc.ListCampaignVouchers, opts...),
		VoucherAdminServiceGetCampaignStatsProcedure:     connect.NewUnaryHandler(VoucherAdminServiceGetCampaignStatsProcedure, svc.GetCampaignStats, opts...),
		VoucherAdminServiceRecountCampaignProcedure:      connect.NewUnaryHandler(VoucherAdminServiceRecountCampaignProcedure, svc.RecountCampaign, opts...),
		VoucherAdminServiceDeleteCampaignProcedure:       connect.NewUnaryHandler(VoucherAdminServiceDeleteCampaignProcedure, svc.DeleteCampaign, opts...),
	}

	return "/" + VoucherAdminServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Path]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// VoucherAdminServiceClient calls the admin procedures used by tooling.
type VoucherAdminServiceClient interface {
	IssueVouchers(context.Context, *connect.Request[voucherv1.IssueVouchersRequest]) (*connect.Response[voucherv1.IssueVouchersResponse], error)
	RedeemVoucher(context.Context, *connect.Request[voucherv1.RedeemVoucherRequest]) (*connect.Response[voucherv1.RedeemVoucherResponse], error)
	GetCampaignStats(context.Context, *connect.Request[voucherv1.GetCampaignStatsRequest]) (*connect.Response[voucherv1.GetCampaignStatsResponse], error)
	RecountCampaign(context.Context, *connect.Request[voucherv1.RecountCampaignRequest]) (*connect.Response[voucherv1.RecountCampaignResponse], error)
}

// NewVoucherAdminServiceClient constructs a client for the admin service at
// baseURL, for example http://localhost:8080.
func NewVoucherAdminServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) VoucherAdminServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append(opts, connect.WithCodec(voucherv1.JSONCodec{}))
	return &voucherAdminServiceClient{
		issueVouchers:    connect.NewClient[voucherv1.IssueVouchersRequest, voucherv1.IssueVouchersResponse](httpClient, baseURL+VoucherAdminServiceIssueVouchersProcedure, opts...),
		redeemVoucher:    connect.NewClient[voucherv1.RedeemVoucherRequest, voucherv1.RedeemVoucherResponse](httpClient, baseURL+VoucherAdminServiceRedeemVoucherProcedure, opts...),
		getCampaignStats: connect.NewClient[voucherv1.GetCampaignStatsRequest, voucherv1.GetCampaignStatsResponse](httpClient, baseURL+VoucherAdminServiceGetCampaignStatsProcedure, opts...),
		recountCampaign:  connect.NewClient[voucherv1.RecountCampaignRequest, voucherv1.RecountCampaignResponse](httpClient, baseURL+VoucherAdminServiceRecountCampaignProcedure, opts...),
	}
}

type voucherAdminServiceClient struct {
	issueVouchers    *connect.Client[voucherv1.IssueVouchersRequest, voucherv1.IssueVouchersResponse]
	redeemVoucher    *connect.Client[voucherv1.RedeemVoucherRequest, voucherv1.RedeemVoucherResponse]
	getCampaignStats *connect.Client[voucherv1.GetCampaignStatsRequest, voucherv1.GetCampaignStatsResponse]
	recountCampaign  *connect.Client[voucherv1.RecountCampaignRequest, voucherv1.RecountCampaignResponse]
}

func (c *voucherAdminServiceClient) IssueVouchers(ctx context.Context, req *connect.Request[voucherv1.IssueVouchersRequest]) (*connect.Response[voucherv1.IssueVouchersResponse], error) {
	return c.issueVouchers.CallUnary(ctx, req)
}

func (c *voucherAdminServiceClient) RedeemVoucher(ctx context.Context, req *connect.Request[voucherv1.RedeemVoucherRequest]) (*connect.Response[voucherv1.RedeemVoucherResponse], error) {
	return c.redeemVoucher.CallUnary(ctx, req)
}

func (c *voucherAdminServiceClient) GetCampaignStats(ctx context.Context, req *connect.Request[voucherv1.GetCampaignStatsRequest]) (*connect.Response[voucherv1.GetCampaignStatsResponse], error) {
	return c.getCampaignStats.CallUnary(ctx, req)
}

func (c *voucherAdminServiceClient) RecountCampaign(ctx context.Context, req *connect.Request[voucherv1.RecountCampaignRequest]) (*connect.Response[voucherv1.RecountCampaignResponse], error) {
	return c.recountCampaign.CallUnary(ctx, req)
}
