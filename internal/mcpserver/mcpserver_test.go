package mcpserver

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flynn-ai/kgbridge/internal/bridge"
	"github.com/flynn-ai/kgbridge/internal/config"
	"github.com/flynn-ai/kgbridge/internal/connector"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/retrieval"
	"github.com/flynn-ai/kgbridge/internal/testutil"
	"github.com/flynn-ai/kgbridge/internal/tools"
	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
)

func newBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	ns, err := graph.Standard("dvt", testutil.DVT)
	require.NoError(t, err)

	cfg := config.Default().Retrieval
	cfg.ChunkSize, cfg.ChunkOverlap = 300, 50
	factory := func() (retrieval.Embedder, error) { return retrieval.NewTFIDFEmbedder(), nil }
	return bridge.New(bridge.Options{
		Store:   connector.NewGraphStore(ns, nil),
		Builder: retrieval.NewBuilder(cfg, factory, 0, nil),
		Tools:   tools.Options{DefaultK: 4, MaxK: 10},
	})
}

// connect returns a client session talking to s over in-memory transports.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverSession, err := s.MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		session.Close()
		serverSession.Wait()
	})
	return session
}

func listNames(t *testing.T, session *mcp.ClientSession) []string {
	t.Helper()
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", res.Content[0])
	return tc.Text, res.IsError
}

func TestToolsFollowSnapshot(t *testing.T) {
	b := newBridge(t)
	s := New(b, 0, nil)
	session := connect(t, s)

	assert.Empty(t, listNames(t, session))

	_, err := b.Upload(context.Background(), testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{schemas.GraphQueryTool, schemas.RetrievalTool}, listNames(t, session))
	assert.Equal(t, []string{schemas.GraphQueryTool, schemas.RetrievalTool}, s.Tools())

	// A source that fails to parse keeps only the retrieval tool.
	_, err = b.Upload(context.Background(), testutil.WriteFile(t, "broken.ttl", "this is <not turtle"))
	require.Error(t, err)
	assert.Equal(t, []string{schemas.RetrievalTool}, listNames(t, session))
}

func TestCallGraphTool(t *testing.T) {
	b := newBridge(t)
	_, err := b.Upload(context.Background(), testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle))
	require.NoError(t, err)
	session := connect(t, New(b, 0, nil))

	text, isErr := callText(t, session, schemas.GraphQueryTool, map[string]any{
		schemas.ParamSPARQLQuery: testutil.FaultyVehicleQuery,
	})
	assert.False(t, isErr)
	assert.Equal(t, `[{"vehicle":"dvt:vehicle1"}]`, text)
}

func TestCallRetrievalTool(t *testing.T) {
	b := newBridge(t)
	_, err := b.Upload(context.Background(), testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle))
	require.NoError(t, err)
	session := connect(t, New(b, 0, nil))

	text, isErr := callText(t, session, schemas.RetrievalTool, map[string]any{
		schemas.ParamQueryText: "faulty brake",
		schemas.ParamK:         2,
	})
	assert.False(t, isErr)
	assert.Contains(t, text, "page_content")
}

func TestCallWithBadArgumentsIsToolError(t *testing.T) {
	b := newBridge(t)
	_, err := b.Upload(context.Background(), testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle))
	require.NoError(t, err)
	session := connect(t, New(b, 0, nil))

	text, isErr := callText(t, session, schemas.RetrievalTool, map[string]any{
		schemas.ParamQueryText: "brake",
		schemas.ParamK:         0,
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "Error: ")
}
