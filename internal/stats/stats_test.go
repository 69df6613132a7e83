package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordRequest(100, 2, 10*time.Millisecond)
		}()
	}
	wg.Wait()
	c.RecordError()
	c.RecordUpload()

	s := c.Collect(2*1024*1024, "/tmp/audit.db")
	assert.Equal(t, int64(10), s.RequestCount)
	assert.Equal(t, int64(20), s.ToolCallCount)
	assert.Equal(t, int64(1000), s.TokenCount)
	assert.Equal(t, int64(1), s.ErrorCount)
	assert.Equal(t, int64(1), s.UploadCount)
	assert.InDelta(t, 10.0, s.AvgLatencyMs, 0.001)
	assert.InDelta(t, 2.0, s.DBSizeMB, 0.001)
	assert.Positive(t, s.Goroutines)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, OutcomeOf(nil))
	assert.Equal(t, OutcomeTimeout, OutcomeOf(context.DeadlineExceeded))
	assert.Equal(t, OutcomeTimeout, OutcomeOf(apperrors.BackendTimeout("x", nil)))
	assert.Equal(t, OutcomeInvalid, OutcomeOf(apperrors.InvalidToolCall("unknown tool %q", "x")))
	assert.Equal(t, OutcomeError, OutcomeOf(errors.New("boom")))
}

func TestRecordToolCall(t *testing.T) {
	before := testutil.ToFloat64(toolCallsTotal.WithLabelValues("stats_test_tool", OutcomeSuccess))
	RecordToolCall("stats_test_tool", OutcomeSuccess, time.Millisecond)
	after := testutil.ToFloat64(toolCallsTotal.WithLabelValues("stats_test_tool", OutcomeSuccess))
	assert.Equal(t, before+1, after)

	SetActive(7, 2)
	assert.Equal(t, 7.0, testutil.ToFloat64(activeGeneration))
	assert.Equal(t, 2.0, testutil.ToFloat64(activeTools))
}
