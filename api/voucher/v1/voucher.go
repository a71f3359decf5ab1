// Package voucherv1 holds the request and response messages of the
// voucher.v1 admin API. Messages travel as JSON.
package voucherv1

import "time"

type Voucher struct {
	Code       string     `json:"code"`
	CampaignId int64      `json:"campaignId"`
	Status     string     `json:"status"`
	ExpiryDate time.Time  `json:"expiryDate"`
	CreatedAt  time.Time  `json:"createdAt"`
	AssignedTo string     `json:"assignedTo,omitempty"`
	AssignedAt *time.Time `json:"assignedAt,omitempty"`
	RedeemedAt *time.Time `json:"redeemedAt,omitempty"`
}

type Campaign struct {
	Id               int64     `json:"id"`
	Name             string    `json:"name"`
	ExternalRef      string    `json:"externalRef,omitempty"`
	ExpiryDate       time.Time `json:"expiryDate"`
	TotalVouchers    int       `json:"totalVouchers"`
	UsedVouchers     int       `json:"usedVouchers"`
	AssignedVouchers int       `json:"assignedVouchers"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type IssueVouchersRequest struct {
	Quantity            int       `json:"quantity"`
	ExpiryDate          time.Time `json:"expiryDate"`
	CampaignName        string    `json:"campaignName"`
	ExternalCampaignRef string    `json:"externalCampaignRef,omitempty"`
}

type IssueVouchersResponse struct {
	Campaign *Campaign `json:"campaign"`
	Vouchers []Voucher `json:"vouchers"`
}

type RedeemVoucherRequest struct {
	Code string `json:"code"`
}

type RedeemVoucherResponse struct {
	// Outcome is one of success, already_used, expired or not_found.
	Outcome string   `json:"outcome"`
	Voucher *Voucher `json:"voucher,omitempty"`
}

type AssignVoucherRequest struct {
	CampaignRef string `json:"campaignRef"`
	Identity    string `json:"identity"`
}

type AssignCodeRequest struct {
	Code     string `json:"code"`
	Identity string `json:"identity"`
}

type AssignVoucherResponse struct {
	Voucher  *Voucher `json:"voucher"`
	Existing bool     `json:"existing"`
}

type GetCampaignRequest struct {
	CampaignId int64 `json:"campaignId"`
}

type GetCampaignResponse struct {
	Campaign *Campaign `json:"campaign"`
}

type ListCampaignsRequest struct{}

type ListCampaignsResponse struct {
	Campaigns []Campaign `json:"campaigns"`
}

type ListCampaignVouchersRequest struct {
	CampaignId int64 `json:"campaignId"`
}

type ListCampaignVouchersResponse struct {
	Vouchers []Voucher `json:"vouchers"`
}

type GetCampaignStatsRequest struct {
	CampaignId int64 `json:"campaignId"`
}

type GetCampaignStatsResponse struct {
	Campaign       *Campaign `json:"campaign"`
	Available      int       `json:"available"`
	Expired        int       `json:"expired"`
	RedemptionRate float64   `json:"redemptionRate"`
}

type Counters struct {
	Total    int `json:"total"`
	Used     int `json:"used"`
	Assigned int `json:"assigned"`
}

type RecountCampaignRequest struct {
	CampaignId int64 `json:"campaignId"`
}

type RecountCampaignResponse struct {
	Before  Counters `json:"before"`
	After   Counters `json:"after"`
	Drifted bool     `json:"drifted"`
}

type DeleteCampaignRequest struct {
	CampaignId int64 `json:"campaignId"`
}

type DeleteCampaignResponse struct {
	DeletedVouchers int `json:"deletedVouchers"`
}
