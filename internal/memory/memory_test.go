package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flynn-ai/kgbridge/internal/bridge"
	"github.com/flynn-ai/kgbridge/internal/connector"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/testutil"
	"github.com/flynn-ai/kgbridge/internal/tools"
	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kgbridge.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, path, s.Path())
	assert.Positive(t, s.Size())

	// reopening keeps the schema version
	require.NoError(t, s.Close())
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMemoryLedgersAreIsolated(t *testing.T) {
	a := openMemory(t)
	b := openMemory(t)
	require.NoError(t, a.RecordExchange(context.Background(), &protocol.Exchange{Question: "q", Answer: "a"}))

	got, err := b.RecentExchanges(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExchangesNewestFirst(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	for _, q := range []string{"first?", "second?", "third?"} {
		ex := &protocol.Exchange{Question: q, Answer: "answer to " + q, ToolCalls: 1, Model: "gpt-4o", Generation: 2}
		require.NoError(t, s.RecordExchange(ctx, ex))
		assert.Positive(t, ex.ID)
	}

	got, err := s.RecentExchanges(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third?", got[0].Question)
	assert.Equal(t, "second?", got[1].Question)
	assert.Equal(t, "gpt-4o", got[0].Model)
	assert.Equal(t, uint64(2), got[0].Generation)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestPublishHookRecordsUploads(t *testing.T) {
	s := openMemory(t)
	ns, err := graph.Standard("dvt", testutil.DVT)
	require.NoError(t, err)
	b := bridge.New(bridge.Options{Store: connector.NewGraphStore(ns, nil), Tools: tools.Options{DefaultK: 4, MaxK: 10}})
	b.OnPublish(s.PublishHook(nil))

	_, err = b.Upload(context.Background(), testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle))
	require.NoError(t, err)
	_, err = b.Upload(context.Background(), testutil.WriteFile(t, "broken.ttl", "<a> <b> ."))
	require.Error(t, err)

	got, err := s.RecentUploads(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	failed, ok := got[0], got[1]
	assert.Equal(t, uint64(2), failed.Generation)
	assert.False(t, failed.GraphLoaded)
	assert.NotEmpty(t, failed.Error)
	assert.Empty(t, failed.Tools)

	assert.Equal(t, "vehicles.ttl", ok.FileName)
	assert.Equal(t, "turtle", ok.Format)
	assert.True(t, ok.GraphLoaded)
	assert.Equal(t, testutil.VehicleTriples, ok.Triples)
	assert.Equal(t, []string{schemas.GraphQueryTool}, ok.Tools)
	assert.Empty(t, ok.Error)
}
