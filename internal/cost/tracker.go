// Package cost tracks model token usage and what it costs.
package cost

import (
	"sync"
	"time"
)

// Tracker records tokens per completion. Completions served by a local
// fallback are free; hosted ones are priced per million tokens.
type Tracker struct {
	mu      sync.Mutex
	rates   map[string]float64 // dollars per 1M tokens, by model
	daily   DailyStats
	monthly MonthlyStats
	now     func() time.Time
}

// DailyStats tracks usage for a single day.
type DailyStats struct {
	Date        string  `json:"date"`
	LocalTokens int     `json:"local_tokens"`
	CloudTokens int     `json:"cloud_tokens"`
	CloudCost   float64 `json:"cloud_cost"`
	Requests    int     `json:"requests"`
}

// MonthlyStats tracks usage for a month.
type MonthlyStats struct {
	Month       string  `json:"month"`
	LocalTokens int     `json:"local_tokens"`
	CloudTokens int     `json:"cloud_tokens"`
	CloudCost   float64 `json:"cloud_cost"`
	Requests    int     `json:"requests"`
}

// Usage is a point-in-time copy of the tracker.
type Usage struct {
	Daily     DailyStats   `json:"daily"`
	Monthly   MonthlyStats `json:"monthly"`
	LocalRate float64      `json:"local_rate_percent"`
}

// NewTracker creates a tracker with no rates set.
func NewTracker() *Tracker {
	t := &Tracker{rates: make(map[string]float64), now: time.Now}
	t.rollover()
	return t
}

// SetRate prices model at perMillion dollars per million tokens.
func (t *Tracker) SetRate(model string, perMillion float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates[model] = perMillion
}

// Record records one completion.
func (t *Tracker) Record(model string, isLocal bool, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	if isLocal {
		t.daily.LocalTokens += tokens
		t.monthly.LocalTokens += tokens
	} else {
		cost := float64(tokens) / 1_000_000 * t.rates[model]
		t.daily.CloudTokens += tokens
		t.monthly.CloudTokens += tokens
		t.daily.CloudCost += cost
		t.monthly.CloudCost += cost
	}
	t.daily.Requests++
	t.monthly.Requests++
}

// Usage returns the current day and month.
func (t *Tracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	u := Usage{Daily: t.daily, Monthly: t.monthly}
	if total := t.daily.LocalTokens + t.daily.CloudTokens; total > 0 {
		u.LocalRate = float64(t.daily.LocalTokens) / float64(total) * 100
	}
	return u
}

// rollover starts a new day or month when the calendar moved on. The
// caller holds mu, except in NewTracker.
func (t *Tracker) rollover() {
	now := t.now()
	if day := now.Format("2006-01-02"); t.daily.Date != day {
		t.daily = DailyStats{Date: day}
	}
	if month := now.Format("2006-01"); t.monthly.Month != month {
		t.monthly = MonthlyStats{Month: month}
	}
}
