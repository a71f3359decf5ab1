package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/voucher/internal/model"
	"github.com/kkkkikiki/voucher/internal/store"
)

func TestIssuer_LaunchScenario(t *testing.T) {
	ctx := context.Background()
	env := newMemoryEnv(t)

	res := env.issue(t, "Launch", 3)
	assert.Equal(t, "Launch", res.Campaign.Name)
	assert.Equal(t, 3, res.Campaign.TotalVouchers)
	for _, v := range res.Vouchers {
		assert.Equal(t, model.StatusIssued, v.Status)
		assert.Len(t, v.Code, 8)
	}

	first := res.Vouchers[0].Code
	redeemed, err := env.redeemer.Redeem(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, redeemed.Outcome)
	assert.Equal(t, model.StatusRedeemed, redeemed.Voucher.Status)
	assert.Equal(t, 1, env.campaign(t, res.Campaign.ID).UsedVouchers)

	again, err := env.redeemer.Redeem(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyUsed, again.Outcome)
	assert.Equal(t, 1, env.campaign(t, res.Campaign.ID).UsedVouchers)
}

func TestIssuer_Validation(t *testing.T) {
	env := newMemoryEnv(t)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		req     IssueRequest
		wantErr error
	}{
		{"zero quantity", IssueRequest{Quantity: 0, ExpiryDate: future, CampaignName: "A"}, ErrInvalidQuantity},
		{"above cap", IssueRequest{Quantity: 501, ExpiryDate: future, CampaignName: "A"}, ErrInvalidQuantity},
		{"blank name", IssueRequest{Quantity: 1, ExpiryDate: future, CampaignName: "   "}, ErrValidation},
		{"missing expiry", IssueRequest{Quantity: 1, CampaignName: "A"}, ErrValidation},
		{"past expiry", IssueRequest{Quantity: 1, ExpiryDate: time.Now().Add(-time.Hour), CampaignName: "A"}, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.issuer.Issue(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}

	campaigns, err := env.campaigns.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, campaigns, "rejected requests must not create campaigns")
}

func TestIssuer_CodesAreUnique(t *testing.T) {
	env := newMemoryEnv(t)

	seen := make(map[string]struct{})
	for _, name := range []string{"North", "South", "North"} {
		res := env.issue(t, name, 500)
		for _, v := range res.Vouchers {
			_, dup := seen[v.Code]
			require.False(t, dup, "code %s issued twice", v.Code)
			seen[v.Code] = struct{}{}
		}
	}
	assert.Len(t, seen, 1500)
}

func TestIssuer_GetOrCreateAccumulates(t *testing.T) {
	env := newMemoryEnv(t)

	first := env.issue(t, "Spring", 4)
	second := env.issue(t, "Spring", 6)

	assert.Equal(t, first.Campaign.ID, second.Campaign.ID)
	assert.Equal(t, 10, second.Campaign.TotalVouchers)
}

func TestIssuer_ExternalRefTaken(t *testing.T) {
	ctx := context.Background()
	env := newMemoryEnv(t)
	future := time.Now().Add(time.Hour)

	_, err := env.issuer.Issue(ctx, IssueRequest{Quantity: 1, ExpiryDate: future, CampaignName: "A", ExternalRef: "list-1"})
	require.NoError(t, err)

	_, err = env.issuer.Issue(ctx, IssueRequest{Quantity: 1, ExpiryDate: future, CampaignName: "B", ExternalRef: "list-1"})
	assert.ErrorIs(t, err, ErrExternalRefTaken)
}

func TestIssuer_BatchAtomicity(t *testing.T) {
	boom := errors.New("write failed")

	tests := []struct {
		name          string
		failOn        int
		wantCommitted int
	}{
		{"first batch fails", 1, 0},
		{"second batch fails", 2, 50},
		{"third batch fails", 3, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := store.NewMemoryStore()
			flaky := &flakyStore{Store: mem, failOn: map[int]error{tt.failOn: boom}}
			cfg := testVoucherConfig()
			cfg.BatchSize = 50
			env := newTestEnv(t, flaky, cfg)

			_, err := env.issuer.Issue(ctx, IssueRequest{
				Quantity:     150,
				ExpiryDate:   time.Now().Add(time.Hour),
				CampaignName: "Atomic",
			})

			var partial *PartialIssueError
			require.ErrorAs(t, err, &partial)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, tt.wantCommitted, partial.Committed)
			assert.Equal(t, 150, partial.Requested)

			campaign, err := mem.FindCampaign(ctx, "Atomic")
			require.NoError(t, err)
			vouchers, err := mem.ListVouchers(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Len(t, vouchers, tt.wantCommitted)
			assert.Zero(t, len(vouchers)%50)
			assert.Equal(t, tt.wantCommitted, campaign.TotalVouchers)
		})
	}
}

func TestIssuer_RetriesBatchOnDuplicate(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: store.NewMemoryStore(), failOn: map[int]error{1: store.ErrDuplicateCode}}
	env := newTestEnv(t, flaky, testVoucherConfig())

	res, err := env.issuer.Issue(ctx, IssueRequest{Quantity: 20, ExpiryDate: time.Now().Add(time.Hour), CampaignName: "Retry"})
	require.NoError(t, err)
	assert.Len(t, res.Vouchers, 20)
	assert.Equal(t, 20, res.Campaign.TotalVouchers)
	assert.Equal(t, 2, flaky.calls)
}

func TestIssuer_GivesUpAfterBatchRetries(t *testing.T) {
	ctx := context.Background()
	failOn := map[int]error{}
	for i := 1; i <= 4; i++ {
		failOn[i] = store.ErrDuplicateCode
	}
	flaky := &flakyStore{Store: store.NewMemoryStore(), failOn: failOn}
	env := newTestEnv(t, flaky, testVoucherConfig())

	_, err := env.issuer.Issue(ctx, IssueRequest{Quantity: 5, ExpiryDate: time.Now().Add(time.Hour), CampaignName: "Unlucky"})

	var partial *PartialIssueError
	require.ErrorAs(t, err, &partial)
	assert.Zero(t, partial.Committed)
	assert.ErrorIs(t, err, ErrCodeExhaustion)
	assert.Equal(t, 4, flaky.calls)
}

func TestIssuer_StopsBetweenBatchesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := newMemoryEnv(t)

	_, err := env.issuer.Issue(ctx, IssueRequest{Quantity: 10, ExpiryDate: time.Now().Add(time.Hour), CampaignName: "Cancelled"})

	var partial *PartialIssueError
	require.ErrorAs(t, err, &partial)
	assert.Zero(t, partial.Committed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIssuer_VouchersOrderedByIssue(t *testing.T) {
	ctx := context.Background()
	env := newMemoryEnv(t)
	res := env.issue(t, "Ordered", 25)

	listed, err := env.campaigns.ListVouchers(ctx, res.Campaign.ID)
	require.NoError(t, err)
	require.Len(t, listed, 25)
	for i := range listed {
		assert.Equal(t, res.Vouchers[i].Code, listed[i].Code)
	}
}

// unreadableCampaignStore fails campaign reads while fail is set.
type unreadableCampaignStore struct {
	store.Store
	fail bool
}

func (s *unreadableCampaignStore) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	if s.fail {
		return nil, errors.New("read replica lagging")
	}
	return s.Store.GetCampaign(ctx, id)
}

func TestIssuer_CommittedIssueSurvivesReloadFailure(t *testing.T) {
	ctx := context.Background()
	st := &unreadableCampaignStore{Store: store.NewMemoryStore()}
	env := newTestEnv(t, st, testVoucherConfig())
	env.issue(t, "Reload", 3)

	st.fail = true
	res, err := env.issuer.Issue(ctx, IssueRequest{Quantity: 5, ExpiryDate: time.Now().Add(time.Hour), CampaignName: "Reload"})
	require.NoError(t, err)
	assert.Len(t, res.Vouchers, 5)
	assert.Equal(t, 8, res.Campaign.TotalVouchers)

	st.fail = false
	assert.Equal(t, 8, env.campaign(t, res.Campaign.ID).TotalVouchers)
}
