package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/voucher/internal/model"
	"github.com/kkkkikiki/voucher/internal/store"
)

func TestCampaignService_CountersMatchRecount(t *testing.T) {
	ctx := context.Background()
	env := newMemoryEnv(t)
	res := env.issue(t, "Consistency", 20)
	ref := fmt.Sprint(res.Campaign.ID)

	for _, v := range res.Vouchers[:5] {
		_, err := env.redeemer.Redeem(ctx, v.Code)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		got, err := env.assigner.Assign(ctx, ref, fmt.Sprintf("user%d@example.com", i))
		require.NoError(t, err)
		_, err = env.redeemer.Redeem(ctx, got.Voucher.Code)
		require.NoError(t, err)
	}
	_, err := env.assigner.Assign(ctx, ref, "pending@example.com")
	require.NoError(t, err)
	// Redeeming twice must not move the counter.
	_, err = env.redeemer.Redeem(ctx, res.Vouchers[0].Code)
	require.NoError(t, err)

	recount, err := env.campaigns.Recount(ctx, res.Campaign.ID)
	require.NoError(t, err)
	assert.False(t, recount.Drifted)
	assert.Equal(t, 20, recount.After.Total)
	assert.Equal(t, 8, recount.After.Used)
	assert.Equal(t, 4, recount.After.Assigned)
	assert.Equal(t, recount.Before.Total, recount.After.Total)
	assert.Equal(t, recount.Before.Used, recount.After.Used)
	assert.Equal(t, recount.Before.Assigned, recount.After.Assigned)
}

// driftingStore reports inflated counters from before a recount.
type driftingStore struct {
	store.Store
}

func (s *driftingStore) RecountCampaign(ctx context.Context, id int64, now time.Time) (*model.Campaign, model.CampaignCounts, error) {
	before, counts, err := s.Store.RecountCampaign(ctx, id, now)
	if err == nil {
		before.UsedVouchers += 2
	}
	return before, counts, err
}

func TestCampaignService_RecountReportsDrift(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &driftingStore{Store: store.NewMemoryStore()}, testVoucherConfig())
	res := env.issue(t, "Drifting", 4)

	recount, err := env.campaigns.Recount(ctx, res.Campaign.ID)
	require.NoError(t, err)
	assert.True(t, recount.Drifted)
	assert.Equal(t, 2, recount.Before.Used)
	assert.Zero(t, recount.After.Used)
}

func TestCampaignService_Stats(t *testing.T) {
	ctx := context.Background()
	env := newMemoryEnv(t)
	res := env.issue(t, "Stats", 4)

	_, err := env.redeemer.Redeem(ctx, res.Vouchers[0].Code)
	require.NoError(t, err)
	_, err = env.assigner.AssignCode(ctx, res.Vouchers[1].Code, "a@example.com")
	require.NoError(t, err)

	stats, err := env.campaigns.Stats(ctx, res.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Campaign.TotalVouchers)
	assert.Equal(t, 1, stats.Campaign.UsedVouchers)
	assert.Equal(t, 1, stats.Campaign.AssignedVouchers)
	assert.Equal(t, 2, stats.Available)
	assert.Zero(t, stats.Expired)
	assert.InDelta(t, 0.25, stats.RedemptionRate, 1e-9)

	env.setClock(time.Now().Add(8 * 24 * time.Hour))
	later, err := env.campaigns.Stats(ctx, res.Campaign.ID)
	require.NoError(t, err)
	assert.Zero(t, later.Available)
	assert.Equal(t, 3, later.Expired)

	_, err = env.campaigns.Stats(ctx, 999)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestCampaignService_Delete(t *testing.T) {
	ctx := context.Background()
	env := newMemoryEnv(t)
	doomed := env.issue(t, "Doomed", 5)
	kept := env.issue(t, "Kept", 2)

	deleted, err := env.campaigns.Delete(ctx, doomed.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	_, err = env.campaigns.Get(ctx, doomed.Campaign.ID)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
	_, err = env.campaigns.Lookup(ctx, doomed.Vouchers[0].Code)
	assert.ErrorIs(t, err, ErrVoucherNotFound)

	redeemed, err := env.redeemer.Redeem(ctx, doomed.Vouchers[0].Code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, redeemed.Outcome)

	exists, err := env.store.CodeExists(ctx, doomed.Vouchers[0].Code)
	require.NoError(t, err)
	assert.True(t, exists, "deleted codes are never reissued")

	assert.Equal(t, 2, env.campaign(t, kept.Campaign.ID).TotalVouchers)

	_, err = env.campaigns.Delete(ctx, doomed.Campaign.ID)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestCampaignService_Lookup(t *testing.T) {
	ctx := context.Background()
	env := newMemoryEnv(t)
	res := env.issue(t, "Lookup", 1)
	v := res.Vouchers[0]

	got, err := env.campaigns.Lookup(ctx, strings.ToLower(v.Code))
	require.NoError(t, err)
	assert.Equal(t, v.Code, got.Code)
	assert.True(t, v.ExpiryDate.Equal(got.ExpiryDate))
	assert.False(t, got.IsUsed)

	_, err = env.redeemer.Redeem(ctx, v.Code)
	require.NoError(t, err)
	got, err = env.campaigns.Lookup(ctx, v.Code)
	require.NoError(t, err)
	assert.True(t, got.IsUsed)

	_, err = env.campaigns.Lookup(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCampaignService_List(t *testing.T) {
	ctx := context.Background()
	env := newMemoryEnv(t)
	env.issue(t, "One", 1)
	env.issue(t, "Two", 1)

	campaigns, err := env.campaigns.List(ctx)
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, "Two", campaigns[0].Name, "newest first")
}
