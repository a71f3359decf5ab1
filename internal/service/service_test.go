package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kkkkikiki/voucher/internal/config"
	"github.com/kkkkikiki/voucher/internal/model"
	"github.com/kkkkikiki/voucher/internal/store"
)

func testVoucherConfig() config.VoucherConfig {
	return config.VoucherConfig{
		CodeLength:       8,
		CodeAttempts:     10,
		BatchSize:        500,
		BatchRetries:     3,
		MaxQuantity:      500,
		AssignAttempts:   5,
		AssignCandidates: 5,
	}
}

type testEnv struct {
	store     store.Store
	issuer    *Issuer
	redeemer  *RedemptionService
	assigner  *AssignmentService
	campaigns *CampaignService
}

func newTestEnv(t *testing.T, st store.Store, cfg config.VoucherConfig) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return &testEnv{
		store:     st,
		issuer:    NewIssuer(st, NewCodeGenerator(st, cfg.CodeAttempts), cfg, logger),
		redeemer:  NewRedemptionService(st, logger),
		assigner:  NewAssignmentService(st, cfg, logger),
		campaigns: NewCampaignService(st, logger),
	}
}

func newMemoryEnv(t *testing.T) *testEnv {
	return newTestEnv(t, store.NewMemoryStore(), testVoucherConfig())
}

// setClock moves every service of the env to a fixed instant.
func (e *testEnv) setClock(now time.Time) {
	clock := func() time.Time { return now }
	e.issuer.now = clock
	e.redeemer.now = clock
	e.assigner.now = clock
	e.campaigns.now = clock
}

func (e *testEnv) issue(t *testing.T, name string, quantity int) *IssueResult {
	t.Helper()
	res, err := e.issuer.Issue(context.Background(), IssueRequest{
		Quantity:     quantity,
		ExpiryDate:   time.Now().Add(7 * 24 * time.Hour),
		CampaignName: name,
	})
	require.NoError(t, err)
	require.Len(t, res.Vouchers, quantity)
	return res
}

func (e *testEnv) campaign(t *testing.T, id int64) *model.Campaign {
	t.Helper()
	c, err := e.campaigns.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

// flakyStore fails selected InsertBatch calls (1-based) with err.
type flakyStore struct {
	store.Store

	mu     sync.Mutex
	calls  int
	failOn map[int]error
}

func (s *flakyStore) InsertBatch(ctx context.Context, campaignID int64, vouchers []model.Voucher) error {
	s.mu.Lock()
	s.calls++
	err := s.failOn[s.calls]
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return s.Store.InsertBatch(ctx, campaignID, vouchers)
}
