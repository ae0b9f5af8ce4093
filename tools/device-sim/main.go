package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type payment struct {
	ID string `json:"id"`
}

type stats struct {
	ok, rejected, failed, newPayments atomic.Int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080/api/payments", "Device feed endpoint")
	tokens := flag.String("tokens", "DEV-DEMO", "Comma separated device tokens")
	devices := flag.Int("devices", 10, "Simulated devices per token")
	interval := flag.Duration("interval", 2*time.Second, "Poll interval of each device")
	duration := flag.Duration("d", 30*time.Second, "Duration of the simulation")
	rps := flag.Int("rps", 200, "Global requests per second limit")
	limit := flag.Int("limit", 0, "Feed size requested by devices, 0 uses the server default")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	logger.Info("starting device simulation", "url", *baseURL, "devices_per_token", *devices, "interval", *interval, "rps", *rps)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), *rps/10+1)
	client := &http.Client{Timeout: 5 * time.Second}
	var st stats
	var wg sync.WaitGroup

	for _, token := range strings.Split(*tokens, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		target := feedURL(*baseURL, token, *limit)
		for i := 0; i < *devices; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runDevice(ctx, client, limiter, target, *interval, &st)
			}()
		}
	}
	wg.Wait()

	total := st.ok.Load() + st.rejected.Load() + st.failed.Load()
	logger.Info("simulation finished",
		"requests", total,
		"ok", st.ok.Load(),
		"rejected", st.rejected.Load(),
		"errors", st.failed.Load(),
		"new_payments_seen", st.newPayments.Load(),
		"actual_rps", float64(total)/duration.Seconds(),
	)
}

func feedURL(base, token string, limit int) string {
	q := url.Values{"token": {token}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return base + "?" + q.Encode()
}

// runDevice polls like a payment display: fixed interval, remembering the ids it already announced.
func runDevice(ctx context.Context, client *http.Client, limiter *rate.Limiter, target string, interval time.Duration, st *stats) {
	seen := make(map[string]struct{})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		poll(ctx, client, target, seen, st)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func poll(ctx context.Context, client *http.Client, target string, seen map[string]struct{}, st *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			st.failed.Add(1)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		st.rejected.Add(1)
		return
	}
	var feed []payment
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		st.failed.Add(1)
		return
	}
	st.ok.Add(1)
	for _, p := range feed {
		if _, ok := seen[p.ID]; !ok {
			seen[p.ID] = struct{}{}
			st.newPayments.Add(1)
		}
	}
}
