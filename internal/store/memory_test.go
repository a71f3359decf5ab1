package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/voucher/internal/model"
)

func newCampaign(t *testing.T, s *MemoryStore, name string) *model.Campaign {
	t.Helper()
	c, err := s.GetOrCreateCampaign(context.Background(), model.NewCampaign{
		Name:       name,
		ExpiryDate: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return c
}

func batch(campaignID int64, expiry time.Time, codes ...string) []model.Voucher {
	now := time.Now()
	out := make([]model.Voucher, len(codes))
	for i, code := range codes {
		out[i] = model.Voucher{
			Code:       code,
			CampaignID: campaignID,
			Status:     model.StatusIssued,
			ExpiryDate: expiry,
			CreatedAt:  now.Add(time.Duration(i) * time.Millisecond),
		}
	}
	return out
}

func TestMemoryStore_GetOrCreateCampaign(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.GetOrCreateCampaign(ctx, model.NewCampaign{Name: "Launch", ExpiryDate: time.Now()})
	require.NoError(t, err)
	assert.Empty(t, first.ExternalReference())

	again, err := s.GetOrCreateCampaign(ctx, model.NewCampaign{Name: "Launch", ExternalRef: "mc-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "mc-1", again.ExternalReference(), "campaign without a ref adopts the supplied one")

	kept, err := s.GetOrCreateCampaign(ctx, model.NewCampaign{Name: "Launch", ExternalRef: "mc-2"})
	require.NoError(t, err)
	assert.Equal(t, "mc-1", kept.ExternalReference(), "existing ref is never overwritten")

	_, err = s.GetOrCreateCampaign(ctx, model.NewCampaign{Name: "Other", ExternalRef: "mc-1"})
	assert.ErrorIs(t, err, ErrExternalRefTaken)
}

func TestMemoryStore_FindCampaign(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c, err := s.GetOrCreateCampaign(ctx, model.NewCampaign{Name: "Spring", ExternalRef: "list-42"})
	require.NoError(t, err)

	for _, ref := range []string{"list-42", "Spring", fmt.Sprint(c.ID)} {
		found, err := s.FindCampaign(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, c.ID, found.ID, ref)
	}

	_, err = s.FindCampaign(ctx, "nope")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestMemoryStore_InsertBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCampaign(t, s, "Launch")
	expiry := time.Now().Add(time.Hour)

	require.NoError(t, s.InsertBatch(ctx, c.ID, batch(c.ID, expiry, "AAAA1111", "BBBB2222")))

	err := s.InsertBatch(ctx, c.ID, batch(c.ID, expiry, "CCCC3333", "AAAA1111"))
	assert.ErrorIs(t, err, ErrDuplicateCode)

	err = s.InsertBatch(ctx, c.ID, batch(c.ID, expiry, "DDDD4444", "DDDD4444"))
	assert.ErrorIs(t, err, ErrDuplicateCode)

	exists, err := s.CodeExists(ctx, "CCCC3333")
	require.NoError(t, err)
	assert.False(t, exists, "rejected batch must not leave codes behind")

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalVouchers)
}

func TestMemoryStore_TryTransition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCampaign(t, s, "Launch")
	now := time.Now()
	require.NoError(t, s.InsertBatch(ctx, c.ID, batch(c.ID, now.Add(time.Hour), "VALID001", "VALID002")))
	require.NoError(t, s.InsertBatch(ctx, c.ID, batch(c.ID, now.Add(-time.Hour), "EXPIRED1")))

	t.Run("redeem applies once", func(t *testing.T) {
		v, err := s.TryTransition(ctx, model.Transition{Code: "VALID001", From: model.StatusIssued, To: model.StatusRedeemed, At: now})
		require.NoError(t, err)
		assert.Equal(t, model.StatusRedeemed, v.Status)
		assert.True(t, v.RedeemedAt.Valid)

		_, err = s.TryTransition(ctx, model.Transition{Code: "VALID001", From: model.StatusIssued, To: model.StatusRedeemed, At: now})
		assert.ErrorIs(t, err, ErrTransitionConflict)
	})

	t.Run("expired is left untouched", func(t *testing.T) {
		_, err := s.TryTransition(ctx, model.Transition{Code: "EXPIRED1", From: model.StatusIssued, To: model.StatusRedeemed, At: now})
		assert.ErrorIs(t, err, ErrVoucherExpired)

		v, err := s.GetVoucher(ctx, "EXPIRED1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusIssued, v.Status)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := s.TryTransition(ctx, model.Transition{Code: "MISSING1", From: model.StatusIssued, To: model.StatusRedeemed, At: now})
		assert.ErrorIs(t, err, ErrVoucherNotFound)
	})

	t.Run("invalid transition", func(t *testing.T) {
		_, err := s.TryTransition(ctx, model.Transition{Code: "VALID001", From: model.StatusRedeemed, To: model.StatusAssigned, At: now, AssignedTo: "x"})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("one voucher per identity", func(t *testing.T) {
		_, err := s.TryTransition(ctx, model.Transition{Code: "VALID002", From: model.StatusIssued, To: model.StatusAssigned, At: now, AssignedTo: "a@example.com"})
		require.NoError(t, err)

		require.NoError(t, s.InsertBatch(ctx, c.ID, batch(c.ID, now.Add(time.Hour), "VALID003")))
		_, err = s.TryTransition(ctx, model.Transition{Code: "VALID003", From: model.StatusIssued, To: model.StatusAssigned, At: now, AssignedTo: "a@example.com"})
		assert.ErrorIs(t, err, ErrIdentityAssigned)
	})

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalVouchers)
	assert.Equal(t, 1, got.UsedVouchers)
	assert.Equal(t, 1, got.AssignedVouchers)
}

func TestMemoryStore_ConcurrentTransitionsApplyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCampaign(t, s, "Race")
	require.NoError(t, s.InsertBatch(ctx, c.ID, batch(c.ID, time.Now().Add(time.Hour), "RACE0001")))

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TryTransition(ctx, model.Transition{Code: "RACE0001", From: model.StatusIssued, To: model.StatusRedeemed, At: time.Now()})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for err := range results {
		if err == nil {
			applied++
			continue
		}
		assert.ErrorIs(t, err, ErrTransitionConflict)
	}
	assert.Equal(t, 1, applied)
}

func TestMemoryStore_ListAssignableOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCampaign(t, s, "Pool")
	now := time.Now()
	require.NoError(t, s.InsertBatch(ctx, c.ID, batch(c.ID, now.Add(time.Hour), "POOL0001", "POOL0002", "POOL0003")))
	require.NoError(t, s.InsertBatch(ctx, c.ID, batch(c.ID, now.Add(-time.Hour), "POOLOLD1")))
	_, err := s.TryTransition(ctx, model.Transition{Code: "POOL0001", From: model.StatusIssued, To: model.StatusRedeemed, At: now})
	require.NoError(t, err)

	got, err := s.ListAssignable(ctx, c.ID, now, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "POOL0002", got[0].Code)
	assert.Equal(t, "POOL0003", got[1].Code)

	limited, err := s.ListAssignable(ctx, c.ID, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStore_DeleteCampaignKeepsCodesReserved(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCampaign(t, s, "Gone")
	require.NoError(t, s.InsertBatch(ctx, c.ID, batch(c.ID, time.Now().Add(time.Hour), "GONE0001", "GONE0002")))

	deleted, err := s.DeleteCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = s.GetCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
	_, err = s.GetVoucher(ctx, "GONE0001")
	assert.ErrorIs(t, err, ErrVoucherNotFound)

	exists, err := s.CodeExists(ctx, "GONE0001")
	require.NoError(t, err)
	assert.True(t, exists)

	again := newCampaign(t, s, "Again")
	err = s.InsertBatch(ctx, again.ID, batch(again.ID, time.Now().Add(time.Hour), "GONE0001"))
	assert.ErrorIs(t, err, ErrDuplicateCode)

	_, err = s.DeleteCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestMemoryStore_RecountRepairsDrift(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCampaign(t, s, "Drift")
	now := time.Now()
	require.NoError(t, s.InsertBatch(ctx, c.ID, batch(c.ID, now.Add(time.Hour), "DRIFT001", "DRIFT002")))
	_, err := s.TryTransition(ctx, model.Transition{Code: "DRIFT001", From: model.StatusIssued, To: model.StatusRedeemed, At: now})
	require.NoError(t, err)

	// Corrupt the counters directly.
	s.mu.Lock()
	s.campaigns[c.ID].TotalVouchers = 9
	s.campaigns[c.ID].UsedVouchers = 0
	s.mu.Unlock()

	before, counts, err := s.RecountCampaign(ctx, c.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 9, before.TotalVouchers)
	assert.True(t, before.Drifted(counts))
	assert.Equal(t, model.CampaignCounts{Total: 2, Used: 1, Available: 1}, counts)

	after, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, after.Drifted(counts))
}
