package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"

	voucherv1 "github.com/kkkkikiki/voucher/api/voucher/v1"
	"github.com/kkkkikiki/voucher/api/voucher/v1/voucherv1connect"
)

// PerfResult gathers aggregated metrics for the run.
// LatencySum & P95Latency are in nanoseconds.
//
// Every redeem call ends in exactly one outcome bucket; Errors counts calls
// that failed at the transport or RPC level.
type PerfResult struct {
	TotalRequests int64
	Success       int64
	AlreadyUsed   int64
	Expired       int64
	NotFound      int64
	Errors        int64
	LatencySum    int64
	P95Latency    int64
}

const (
	fixedWorkers     = 50
	fixedRPSTarget   = 700
	fixedVouchers    = 500
	fixedContenders  = 8 // redeem attempts per code
	defaultTimeout   = 30 * time.Second
	defaultServerURL = "http://localhost:8080"
)

func main() {
	baseURL := os.Getenv("VOUCHER_URL")
	if baseURL == "" {
		baseURL = defaultServerURL
	}
	rps := fixedRPSTarget
	workers := fixedWorkers

	// ─── HTTP Client & Transport ─────────────────────────────────
	transport := &http.Transport{
		MaxIdleConns:        workers * 4,
		MaxIdleConnsPerHost: workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := voucherv1connect.NewVoucherAdminServiceClient(httpClient, baseURL)

	// ─── Campaign ────────────────────────────────────────────────
	campaignID, codes, err := issueCampaign(client, fixedVouchers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue campaign: %v\n", err)
		os.Exit(1)
	}

	// Every code is redeemed by several workers at once.
	jobs := make([]string, 0, len(codes)*fixedContenders)
	for round := 0; round < fixedContenders; round++ {
		jobs = append(jobs, codes...)
	}

	fmt.Println("==========================================")
	fmt.Println("Voucher redemption race")
	fmt.Println("==========================================")
	fmt.Printf("server      : %s\n", baseURL)
	fmt.Printf("campaign id : %d\n", campaignID)
	fmt.Printf("vouchers    : %d\n", len(codes))
	fmt.Printf("attempts    : %d (%d per code)\n", len(jobs), fixedContenders)
	fmt.Printf("RPS         : %d\n", rps)
	fmt.Println("==========================================")

	// ─── Rate limiter ───────────────────────────────────────────
	burst := rps / workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	ctx := context.Background()

	var result PerfResult
	var wg sync.WaitGroup
	var next int64 = -1

	// latencyChan collects latencies for P95 estimation.
	latencyChan := make(chan time.Duration, 4096)
	p95Done := make(chan struct{})
	go func() {
		trackP95(latencyChan, &result)
		close(p95Done)
	}()

	start := time.Now()
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := atomic.AddInt64(&next, 1)
				if idx >= int64(len(jobs)) {
					return
				}
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				doRedeem(client, jobs[idx], &result, latencyChan)
			}
		}()
	}
	wg.Wait()
	close(latencyChan)
	<-p95Done
	totalDur := time.Since(start)

	// ─── Report ─────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("Results")
	fmt.Println("==========================================")
	fmt.Printf("duration      : %.2fs\n", totalDur.Seconds())
	fmt.Printf("requests      : %d\n", result.TotalRequests)
	fmt.Printf("success       : %d\n", result.Success)
	fmt.Printf("already_used  : %d\n", result.AlreadyUsed)
	fmt.Printf("expired       : %d\n", result.Expired)
	fmt.Printf("not_found     : %d\n", result.NotFound)
	fmt.Printf("errors        : %d\n", result.Errors)

	answered := result.TotalRequests - result.Errors
	var avgLatency time.Duration
	if answered > 0 {
		avgLatency = time.Duration(result.LatencySum / answered)
	}
	fmt.Printf("actual RPS    : %.2f\n", float64(result.TotalRequests)/totalDur.Seconds())
	fmt.Printf("avg latency   : %v\n", avgLatency)
	fmt.Printf("P95 latency   : %v\n", time.Duration(result.P95Latency))

	// ─── Data Consistency Check ─────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("Consistency check")
	fmt.Println("==========================================")
	if err := verifyDataConsistency(client, campaignID, int64(len(codes)), &result); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK: every voucher redeemed exactly once, counters match a recount")
	fmt.Println("==========================================")
}

// issueCampaign creates a fresh campaign holding n vouchers.
func issueCampaign(client voucherv1connect.VoucherAdminServiceClient, n int) (int64, []string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	resp, err := client.IssueVouchers(ctx, connect.NewRequest(&voucherv1.IssueVouchersRequest{
		Quantity:     n,
		ExpiryDate:   time.Now().Add(24 * time.Hour),
		CampaignName: fmt.Sprintf("perf-%d", time.Now().UnixNano()),
	}))
	if err != nil {
		return 0, nil, fmt.Errorf("issue vouchers failed: %w", err)
	}
	if resp.Msg.Campaign == nil {
		return 0, nil, fmt.Errorf("campaign response is nil")
	}

	codes := make([]string, len(resp.Msg.Vouchers))
	for i, v := range resp.Msg.Vouchers {
		codes[i] = v.Code
	}
	return resp.Msg.Campaign.Id, codes, nil
}

// doRedeem performs a single RedeemVoucher RPC and collects metrics.
func doRedeem(client voucherv1connect.VoucherAdminServiceClient, code string, result *PerfResult, latencyChan chan<- time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	resp, err := client.RedeemVoucher(ctx, connect.NewRequest(&voucherv1.RedeemVoucherRequest{Code: code}))
	latency := time.Since(start)
	if err != nil {
		atomic.AddInt64(&result.Errors, 1)
		return
	}

	switch resp.Msg.Outcome {
	case "success":
		atomic.AddInt64(&result.Success, 1)
	case "already_used":
		atomic.AddInt64(&result.AlreadyUsed, 1)
	case "expired":
		atomic.AddInt64(&result.Expired, 1)
	case "not_found":
		atomic.AddInt64(&result.NotFound, 1)
	default:
		atomic.AddInt64(&result.Errors, 1)
		return
	}
	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	select {
	case latencyChan <- latency:
	default:
	}
}

// trackP95 maintains a best-effort rolling P95 latency estimation.
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
			buf[idx] = lat.Nanoseconds()
		}

		if len(buf) >= 100 && len(buf)%100 == 0 {
			copyBuf := make([]int64, len(buf))
			copy(copyBuf, buf)
			quickSort(copyBuf)
			p95Index := int(float64(len(copyBuf)) * 0.95)
			if p95Index >= len(copyBuf) {
				p95Index = len(copyBuf) - 1
			}
			atomic.StoreInt64(&result.P95Latency, copyBuf[p95Index])
		}
	}
}

// quickSort sorts the array in ascending order
func quickSort(arr []int64) {
	if len(arr) < 2 {
		return
	}

	left, right := 0, len(arr)-1
	pivot := len(arr) / 2

	arr[pivot], arr[right] = arr[right], arr[pivot]

	for i := range arr {
		if arr[i] < arr[right] {
			arr[left], arr[i] = arr[i], arr[left]
			left++
		}
	}

	arr[left], arr[right] = arr[right], arr[left]

	quickSort(arr[:left])
	quickSort(arr[left+1:])
}

// verifyDataConsistency checks that each voucher was redeemed exactly once
// and that the stored counters agree with a full recount.
func verifyDataConsistency(client voucherv1connect.VoucherAdminServiceClient, campaignID, issued int64, result *PerfResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := client.GetCampaignStats(ctx, connect.NewRequest(&voucherv1.GetCampaignStatsRequest{CampaignId: campaignID}))
	if err != nil {
		return fmt.Errorf("failed to get campaign stats: %w", err)
	}
	campaign := stats.Msg.Campaign
	used := int64(campaign.UsedVouchers)

	fmt.Printf("total vouchers      : %d\n", campaign.TotalVouchers)
	fmt.Printf("used (stored)       : %d\n", used)
	fmt.Printf("used (client)       : %d\n", result.Success)
	fmt.Printf("available           : %d\n", stats.Msg.Available)

	if result.Errors == 0 && result.Success != issued {
		return fmt.Errorf("expected %d successful redemptions, got %d", issued, result.Success)
	}
	if used != result.Success {
		return fmt.Errorf("counter mismatch: stored=%d client=%d", used, result.Success)
	}
	if used > int64(campaign.TotalVouchers) {
		return fmt.Errorf("over-redemption: used=%d > total=%d", used, campaign.TotalVouchers)
	}

	recount, err := client.RecountCampaign(ctx, connect.NewRequest(&voucherv1.RecountCampaignRequest{CampaignId: campaignID}))
	if err != nil {
		return fmt.Errorf("failed to recount campaign: %w", err)
	}
	if recount.Msg.Drifted {
		return fmt.Errorf("counters drifted: before=%+v after=%+v", recount.Msg.Before, recount.Msg.After)
	}
	return nil
}
