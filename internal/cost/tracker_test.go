package cost

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordPricesHostedTokens(t *testing.T) {
	tr := NewTracker()
	tr.SetRate("gpt-4o", 5)

	tr.Record("gpt-4o", false, 200_000)
	tr.Record("llama3", true, 600_000)

	u := tr.Usage()
	assert.Equal(t, 200_000, u.Daily.CloudTokens)
	assert.Equal(t, 600_000, u.Daily.LocalTokens)
	assert.InDelta(t, 1.0, u.Daily.CloudCost, 1e-9)
	assert.Equal(t, 2, u.Monthly.Requests)
	assert.InDelta(t, 75.0, u.LocalRate, 1e-9)
}

func TestUnpricedModelCostsNothing(t *testing.T) {
	tr := NewTracker()
	tr.Record("unknown", false, 1_000_000)
	assert.Zero(t, tr.Usage().Daily.CloudCost)
}

func TestRolloverStartsNewDayAndMonth(t *testing.T) {
	now := time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return now }
	tr.rollover()

	tr.Record("m", true, 10)
	assert.Equal(t, "2026-01-31", tr.Usage().Daily.Date)

	now = now.Add(2 * time.Hour)
	u := tr.Usage()
	assert.Equal(t, "2026-02-01", u.Daily.Date)
	assert.Equal(t, "2026-02", u.Monthly.Month)
	assert.Zero(t, u.Daily.Requests)
	assert.Zero(t, u.Monthly.Requests)
}

func TestConcurrentRecord(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record("m", i%2 == 0, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Usage().Daily.Requests)
}
