package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kkkkikiki/voucher/api/voucher/v1/voucherv1connect"
	"github.com/kkkkikiki/voucher/internal/cache"
	"github.com/kkkkikiki/voucher/internal/config"
	"github.com/kkkkikiki/voucher/internal/model"
	"github.com/kkkkikiki/voucher/internal/service"
	"github.com/kkkkikiki/voucher/internal/store"
)

const testWebhookSecret = "hook-secret"

type testServer struct {
	url    string
	store  store.Store
	svc    Services
	client voucherv1connect.VoucherAdminServiceClient
}

type serverOptions struct {
	store   store.Store
	qrCache cache.QRCache
	batch   int
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	if opts.store == nil {
		opts.store = store.NewMemoryStore()
	}
	if opts.qrCache == nil {
		opts.qrCache = cache.Noop{}
	}
	if opts.batch == 0 {
		opts.batch = 500
	}

	cfg := &config.Config{
		Voucher: config.VoucherConfig{
			CodeLength:       8,
			CodeAttempts:     10,
			BatchSize:        opts.batch,
			BatchRetries:     3,
			MaxQuantity:      500,
			AssignAttempts:   5,
			AssignCandidates: 5,
		},
		Webhook: config.WebhookConfig{Secret: testWebhookSecret},
		QR:      config.QRConfig{Size: 300, Foreground: "#115E59", Background: "#FFFFFF"},
	}

	st := opts.store
	svc := Services{
		Issuer:    service.NewIssuer(st, service.NewCodeGenerator(st, cfg.Voucher.CodeAttempts), cfg.Voucher, logger),
		Redeemer:  service.NewRedemptionService(st, logger),
		Assigner:  service.NewAssignmentService(st, cfg.Voucher, logger),
		Campaigns: service.NewCampaignService(st, logger),
	}

	handler, err := NewRouter(cfg, svc, opts.qrCache, logger)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		url:    srv.URL,
		store:  st,
		svc:    svc,
		client: voucherv1connect.NewVoucherAdminServiceClient(srv.Client(), srv.URL),
	}
}

func (s *testServer) issue(t *testing.T, name, ref string, quantity int) *service.IssueResult {
	t.Helper()
	res, err := s.svc.Issuer.Issue(context.Background(), service.IssueRequest{
		Quantity:     quantity,
		ExpiryDate:   time.Now().Add(30 * 24 * time.Hour),
		CampaignName: name,
		ExternalRef:  ref,
	})
	require.NoError(t, err)
	return res
}

// insertExpired stores a voucher whose expiry date has already passed,
// which the issuer itself refuses to create.
func (s *testServer) insertExpired(t *testing.T, code string) {
	t.Helper()
	ctx := context.Background()
	past := time.Now().Add(-24 * time.Hour)

	campaign, err := s.store.GetOrCreateCampaign(ctx, model.NewCampaign{Name: "Lapsed", ExpiryDate: past})
	require.NoError(t, err)
	require.NoError(t, s.store.InsertBatch(ctx, campaign.ID, []model.Voucher{{
		Code:       code,
		CampaignID: campaign.ID,
		Status:     model.StatusIssued,
		ExpiryDate: past,
		CreatedAt:  past.Add(-time.Hour),
	}}))
}

func (s *testServer) do(t *testing.T, method, path, contentType, body string, header http.Header) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.url+path, reader)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := decodeBody(t, resp)
	envelope, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "missing error envelope: %v", body)
	code, _ := envelope["code"].(string)
	return code
}

// failingStore fails the Nth InsertBatch call (1-based).
type failingStore struct {
	store.Store

	mu     sync.Mutex
	calls  int
	failOn int
	err    error
}

func (s *failingStore) InsertBatch(ctx context.Context, campaignID int64, vouchers []model.Voucher) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls == s.failOn
	s.mu.Unlock()

	if fail {
		return s.err
	}
	return s.Store.InsertBatch(ctx, campaignID, vouchers)
}

// recordingCache is an in-process QRCache that counts writes.
type recordingCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string][]byte)}
}

func (c *recordingCache) key(code string, size int) string {
	return fmt.Sprintf("%s:%d", code, size)
}

func (c *recordingCache) Get(_ context.Context, code string, size int) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	png, ok := c.entries[c.key(code, size)]
	return png, ok, nil
}

func (c *recordingCache) Set(_ context.Context, code string, size int, png []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(code, size)] = png
	c.sets++
	return nil
}

func (c *recordingCache) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}
