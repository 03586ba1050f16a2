package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		p    float64
		want time.Duration
	}{
		{50, 5},
		{90, 9},
		{99, 10},
		{0, 1},
		{100, 10},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}

	if got := percentile(nil, 50); got != 0 {
		t.Errorf("expected 0 for empty input, got %v", got)
	}
}

func TestRankingFingerprint(t *testing.T) {
	a := &domain.ComparisonResult{
		Success: true,
		Ranking: []domain.ScoreEntry{
			{Rank: 1, Bank: domain.BankRef{ID: "b1"}, Score: 80},
			{Rank: 2, Bank: domain.BankRef{ID: "b2"}, Score: 20},
		},
		Meta: &domain.ResultMeta{ElapsedMs: 3},
	}
	b := &domain.ComparisonResult{
		Success: true,
		Ranking: a.Ranking,
		Meta:    &domain.ResultMeta{ElapsedMs: 9},
	}
	if rankingFingerprint(a) != rankingFingerprint(b) {
		t.Error("timings must not change the fingerprint")
	}

	swapped := &domain.ComparisonResult{
		Success: true,
		Ranking: []domain.ScoreEntry{
			{Rank: 1, Bank: domain.BankRef{ID: "b2"}, Score: 80},
			{Rank: 2, Bank: domain.BankRef{ID: "b1"}, Score: 20},
		},
	}
	if rankingFingerprint(a) == rankingFingerprint(swapped) {
		t.Error("different orders must not share a fingerprint")
	}
}

func TestRun(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/compare":
			calls.Add(1)
			json.NewEncoder(w).Encode(domain.ComparisonResult{
				Mode:    domain.ModeScore,
				Success: true,
				Ranking: []domain.ScoreEntry{{Rank: 1, Bank: domain.BankRef{ID: "b1"}, Score: 100}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	opts := &options{baseURL: srv.URL, requests: 20, concurrency: 4, mode: "score", timeout: time.Second}
	if err := run(&out, opts); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if calls.Load() != 20 {
		t.Errorf("expected 20 compare calls, got %d", calls.Load())
	}
	if !strings.Contains(out.String(), "all rankings identical") {
		t.Errorf("unexpected report:\n%s", out.String())
	}
}

func TestRunDetectsDivergence(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			return
		}
		id := "b1"
		if calls.Add(1)%2 == 0 {
			id = "b2"
		}
		json.NewEncoder(w).Encode(domain.ComparisonResult{
			Success: true,
			Ranking: []domain.ScoreEntry{{Rank: 1, Bank: domain.BankRef{ID: id}}},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	opts := &options{baseURL: srv.URL, requests: 10, concurrency: 2, mode: "score", timeout: time.Second}
	if err := run(&out, opts); err == nil {
		t.Error("expected divergence error")
	}
}

func TestParseBudgets(t *testing.T) {
	got, err := parseBudgets(map[string]string{"account_monthly_fee": "1500"})
	if err != nil {
		t.Fatalf("parseBudgets failed: %v", err)
	}
	if got["account_monthly_fee"] != 1500 {
		t.Errorf("unexpected budgets %v", got)
	}

	if _, err := parseBudgets(map[string]string{"x": "cheap"}); err == nil {
		t.Error("expected error for non-numeric budget")
	}
}
