// Benchmark tool for load-testing Heron comparisons.
//
// Usage:
//
//	go run ./cmd/benchmark --url http://localhost:8080 --requests 1000 --concurrency 20 --mode score
//
// This tool:
//  1. Fires concurrent POST /compare requests with the same payload
//  2. Reports throughput and latency percentiles
//  3. Checks that every successful response ranks banks identically
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/spf13/cobra"
)

type options struct {
	baseURL     string
	requests    int
	concurrency int
	mode        string
	criteria    []string
	banks       []string
	budgets     map[string]string
	timeout     time.Duration
	verbose     bool
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64
	TotalFailed    int64 // success:false envelopes

	mu           sync.Mutex
	latencies    []time.Duration
	fingerprints map[string]int
}

func (m *Metrics) record(latency time.Duration, fingerprint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, latency)
	if fingerprint != "" {
		m.fingerprints[fingerprint]++
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Load-test POST /compare and check ranking determinism",
		Long: `benchmark sends the same comparison request many times in parallel to a
running Heron server, reports latency percentiles, and fails when two
successful responses disagree on the ranking.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.baseURL, "url", "http://localhost:8080", "Heron base URL")
	flags.IntVarP(&opts.requests, "requests", "n", 1000, "Total requests to send")
	flags.IntVarP(&opts.concurrency, "concurrency", "c", 10, "Number of concurrent workers")
	flags.StringVar(&opts.mode, "mode", string(domain.ModeScore), "Comparison mode (plain or score)")
	flags.StringSliceVar(&opts.criteria, "criteria", nil, "Criteria keys (default: all active)")
	flags.StringSliceVar(&opts.banks, "banks", nil, "Bank ids (default: all active)")
	flags.StringToStringVar(&opts.budgets, "budget", nil, "Budgets as criteria_key=max")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Per-request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Print each request result")

	return cmd
}

func run(out io.Writer, opts *options) error {
	if opts.requests <= 0 || opts.concurrency <= 0 {
		return errors.New("requests and concurrency must be positive")
	}

	if err := checkHealth(opts.baseURL); err != nil {
		return fmt.Errorf("heron is not reachable at %s: %w", opts.baseURL, err)
	}

	budgets, err := parseBudgets(opts.budgets)
	if err != nil {
		return err
	}

	body, err := json.Marshal(domain.CompareRequest{
		Mode:         domain.Mode(opts.mode),
		CriteriaKeys: opts.criteria,
		BankIDs:      opts.banks,
		Budgets:      budgets,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Sending %d requests with %d workers to %s/compare\n", opts.requests, opts.concurrency, opts.baseURL)

	start := time.Now()
	metrics := runBenchmark(out, opts, body)
	duration := time.Since(start)

	printResults(out, metrics, duration)

	if len(metrics.fingerprints) > 1 {
		return fmt.Errorf("rankings diverged: %d distinct results", len(metrics.fingerprints))
	}
	return nil
}

func parseBudgets(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	budgets := make(map[string]float64, len(raw))
	for key, v := range raw {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid budget for %s: %w", key, err)
		}
		budgets[key] = limit
	}
	return budgets, nil
}

func checkHealth(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func runBenchmark(out io.Writer, opts *options, body []byte) *Metrics {
	metrics := &Metrics{fingerprints: make(map[string]int)}

	work := make(chan int, opts.concurrency)
	var wg sync.WaitGroup

	for i := 0; i < opts.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: opts.timeout}

			for n := range work {
				start := time.Now()
				result, err := compare(client, opts.baseURL, body)
				elapsed := time.Since(start)

				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if opts.verbose {
						fmt.Fprintf(out, "ERROR #%d -> %v\n", n, err)
					}
					continue
				}

				fingerprint := ""
				if result.Success {
					fingerprint = rankingFingerprint(result)
				} else {
					atomic.AddInt64(&metrics.TotalFailed, 1)
				}
				metrics.record(elapsed, fingerprint)

				if opts.verbose {
					fmt.Fprintf(out, "#%-6d %6.1fms success=%-5v %s\n", n, float64(elapsed.Microseconds())/1000, result.Success, result.Error)
				}
			}
		}()
	}

	for i := 0; i < opts.requests; i++ {
		work <- i
	}
	close(work)

	wg.Wait()
	return metrics
}

func compare(client *http.Client, baseURL string, body []byte) (*domain.ComparisonResult, error) {
	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/compare", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Validation failures still carry an envelope.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.ComparisonResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// rankingFingerprint renders the ranking-relevant part of a result. Meta
// holds timings and is left out.
func rankingFingerprint(result *domain.ComparisonResult) string {
	var b strings.Builder
	for _, e := range result.Ranking {
		fmt.Fprintf(&b, "%d:%s:%.6f:%v;", e.Rank, e.Bank.ID, e.Score, e.Excluded)
	}
	for _, c := range result.PerCriterion {
		b.WriteString(c.Criteria.Key + "[")
		for _, e := range c.Ranking {
			fmt.Fprintf(&b, "%d:%s:%s:%v;", e.Rank, e.Bank.ID, e.Display, e.Excluded)
		}
		b.WriteString("]")
	}
	for _, e := range result.OverallRanking {
		fmt.Fprintf(&b, "%d:%s:%.6f:%v;", e.Rank, e.Bank.ID, e.SortSum, e.Excluded)
	}
	return b.String()
}

// percentile returns the p-th percentile (0-100) of sorted latencies using
// the nearest-rank method.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func printResults(out io.Writer, m *Metrics, duration time.Duration) {
	m.mu.Lock()
	latencies := append([]time.Duration(nil), m.latencies...)
	distinct := len(m.fingerprints)
	m.mu.Unlock()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Fprintln(out)
	fmt.Fprintln(out, "BENCHMARK RESULTS")
	fmt.Fprintln(out, "=================")
	fmt.Fprintf(out, "  Total Processed:  %d\n", m.TotalProcessed)
	fmt.Fprintf(out, "  Errors:           %d\n", m.TotalErrors)
	fmt.Fprintf(out, "  Failed Envelopes: %d\n", m.TotalFailed)
	fmt.Fprintf(out, "  Duration:         %s\n", duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Fprintf(out, "  Throughput:       %.1f req/s\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  LATENCY")
	for _, p := range []float64{50, 90, 95, 99} {
		fmt.Fprintf(out, "    p%-3.0f %s\n", p, percentile(latencies, p).Round(time.Microsecond))
	}
	if len(latencies) > 0 {
		fmt.Fprintf(out, "    max  %s\n", latencies[len(latencies)-1].Round(time.Microsecond))
	}

	fmt.Fprintln(out)
	switch distinct {
	case 0:
		fmt.Fprintln(out, "  DETERMINISM: no successful comparison to check")
	case 1:
		fmt.Fprintln(out, "  DETERMINISM: all rankings identical")
	default:
		fmt.Fprintf(out, "  DETERMINISM: %d distinct rankings\n", distinct)
	}
}
