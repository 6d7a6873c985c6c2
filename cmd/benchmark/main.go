// Command benchmark drives concurrent AuthorizePayment calls against a
// running instance's HTTP surface and writes a JSON results summary:
// atomic outcome counters across worker goroutines plus total duration
// and throughput, written to a file. Per-request latency is not
// recorded.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type authorizeRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	PayerAccountID string `json:"payer_account_id"`
	PayeeAccountID string `json:"payee_account_id"`
	AmountMinor    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
}

type results struct {
	TotalRequests   int64   `json:"total_requests"`
	Succeeded       int64   `json:"succeeded"`
	Failed          int64   `json:"failed"`
	RateLimited     int64   `json:"rate_limited"`
	DurationSeconds float64 `json:"duration_seconds"`
	RequestsPerSec  float64 `json:"requests_per_sec"`
}

func main() {
	target := flag.String("target", "http://localhost:8080", "base URL of the running api service")
	concurrency := flag.Int("concurrency", 20, "number of concurrent workers")
	requests := flag.Int("requests", 2000, "total number of requests to issue")
	payer := flag.String("payer", "", "payer account id")
	payee := flag.String("payee", "", "payee account id")
	currency := flag.String("currency", "USD", "currency for generated payments")
	out := flag.String("out", "benchmark_results.json", "path to write JSON results")
	flag.Parse()

	if *payer == "" || *payee == "" {
		fmt.Fprintln(os.Stderr, "benchmark: -payer and -payee are required")
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	var succeeded, failed, rateLimited int64

	jobs := make(chan int, *requests)
	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := range jobs {
				req := authorizeRequest{
					IdempotencyKey: fmt.Sprintf("bench-%d-%d-%d", worker, i, rand.Int63()),
					PayerAccountID: *payer,
					PayeeAccountID: *payee,
					AmountMinor:    100,
					Currency:       *currency,
				}
				body, _ := json.Marshal(req)

				resp, err := client.Post(*target+"/v1/payments/authorize", "application/json", bytes.NewReader(body))
				if err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				resp.Body.Close()

				switch resp.StatusCode {
				case http.StatusOK:
					atomic.AddInt64(&succeeded, 1)
				case http.StatusTooManyRequests:
					atomic.AddInt64(&rateLimited, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	res := results{
		TotalRequests:   int64(*requests),
		Succeeded:       succeeded,
		Failed:          failed,
		RateLimited:     rateLimited,
		DurationSeconds: elapsed.Seconds(),
		RequestsPerSec:  float64(*requests) / elapsed.Seconds(),
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "benchmark: write results:", err)
		os.Exit(1)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(os.Stderr, "benchmark: encode results:", err)
		os.Exit(1)
	}

	fmt.Printf("done: %d succeeded, %d failed, %d rate-limited in %.2fs (%.1f req/s)\n",
		res.Succeeded, res.Failed, res.RateLimited, res.DurationSeconds, res.RequestsPerSec)
}
