package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/flynn-ai/kgbridge/internal/bridge"
	"github.com/flynn-ai/kgbridge/internal/connector"
	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/model"
	"github.com/flynn-ai/kgbridge/internal/model/modeltest"
	"github.com/flynn-ai/kgbridge/internal/testutil"
	"github.com/flynn-ai/kgbridge/internal/tools"
	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	ns, err := graph.Standard("dvt", testutil.DVT)
	require.NoError(t, err)
	return bridge.New(bridge.Options{
		Store: connector.NewGraphStore(ns, nil),
		Tools: tools.Options{DefaultK: 4, MaxK: 10},
	})
}

func loadedBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	b := newBridge(t)
	_, err := b.Upload(context.Background(), testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle))
	require.NoError(t, err)
	return b
}

func newOrchestrator(b *bridge.Bridge, m model.Model) *Orchestrator {
	return New(Config{
		Snapshots:     b,
		Model:         m,
		Namespaces:    b.Store().Namespaces(),
		MaxToolRounds: 1,
	})
}

func graphCall(id, query string) model.ToolCall {
	return modeltest.Call(id, schemas.GraphQueryTool, map[string]any{"sparql_query": query})
}

func TestAskBeforeUploadMakesNoModelCalls(t *testing.T) {
	m := modeltest.New("scripted")
	o := newOrchestrator(newBridge(t), m)

	ans, err := o.Ask(context.Background(), "which vehicles have a faulty component?")
	require.NoError(t, err)

	assert.Equal(t, NoSourceAnswer, ans.Text)
	assert.Contains(t, ans.Text, "upload")
	assert.Empty(t, m.Requests())
	assert.Empty(t, ans.ToolCalls)
	assert.Equal(t, []State{StateAwaitQuestion, StateAnswered}, ans.States)
}

func TestAskAfterFailedUpload(t *testing.T) {
	b := newBridge(t)
	_, err := b.Upload(context.Background(), testutil.WriteFile(t, "broken.ttl", "not turtle at all <"))
	require.Error(t, err)

	m := modeltest.New("scripted")
	ans, err := newOrchestrator(b, m).Ask(context.Background(), "anything?")
	require.NoError(t, err)
	assert.Equal(t, NoToolsAnswer, ans.Text)
	assert.Empty(t, m.Requests())
}

func TestAskFaultyVehicleScenario(t *testing.T) {
	m := modeltest.New("scripted",
		modeltest.ToolCalls(graphCall("call_1", testutil.FaultyVehicleQuery)),
		modeltest.Text("Vehicle dvt:vehicle1 has a faulty component."),
	)
	o := newOrchestrator(loadedBridge(t), m)

	ans, err := o.Ask(context.Background(), "Which vehicles have a faulty component?")
	require.NoError(t, err)

	assert.Equal(t, "Vehicle dvt:vehicle1 has a faulty component.", ans.Text)
	assert.Equal(t, []State{
		StateAwaitQuestion, StateFirstTurnIssued, StateToolCallsIssued, StateSecondTurnIssued, StateAnswered,
	}, ans.States)
	require.Len(t, ans.ToolCalls, 1)
	assert.True(t, ans.ToolCalls[0].Success)
	assert.JSONEq(t, `[{"vehicle":"dvt:vehicle1"}]`, ans.ToolCalls[0].Content)

	reqs := m.Requests()
	require.Len(t, reqs, 2)

	first := reqs[0]
	assert.Equal(t, 0.0, first.Temperature)
	assert.Len(t, first.Tools, 1)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, model.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "PREFIX dvt: <"+testutil.DVT+">")
	assert.Equal(t, "Which vehicles have a faulty component?", first.Messages[1].Content)

	second := reqs[1]
	assert.Nil(t, second.Tools, "the synthesis turn offers no tools")
	require.Len(t, second.Messages, 4)
	assert.Equal(t, model.RoleAssistant, second.Messages[2].Role)
	assert.Equal(t, "call_1", second.Messages[2].ToolCalls[0].ID)
	tool := second.Messages[3]
	assert.Equal(t, model.RoleTool, tool.Role)
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.Equal(t, schemas.GraphQueryTool, tool.Name)
	assert.JSONEq(t, `[{"vehicle":"dvt:vehicle1"}]`, tool.Content)
}

func TestAskDirectAnswer(t *testing.T) {
	m := modeltest.New("scripted", modeltest.Text("An ontology describes concepts."))
	ans, err := newOrchestrator(loadedBridge(t), m).Ask(context.Background(), "what is an ontology?")
	require.NoError(t, err)

	assert.Equal(t, "An ontology describes concepts.", ans.Text)
	assert.Equal(t, []State{StateAwaitQuestion, StateFirstTurnIssued, StateDirectAnswer, StateAnswered}, ans.States)
	assert.Len(t, m.Requests(), 1)
	assert.Zero(t, ans.Rounds)
}

func TestAskIsolatesFailingToolCalls(t *testing.T) {
	m := modeltest.New("scripted",
		modeltest.ToolCalls(
			modeltest.Call("call_weather", "get_weather", map[string]any{"city": "Munich"}),
			graphCall("call_graph", `SELECT ?c WHERE { ?c dvt:status "faulty" }`),
		),
		modeltest.Text("brake1 is faulty."),
	)
	ans, err := newOrchestrator(loadedBridge(t), m).Ask(context.Background(), "what is broken?")
	require.NoError(t, err)
	assert.Equal(t, "brake1 is faulty.", ans.Text)

	history := m.Requests()[1].Messages
	require.Len(t, history, 5)
	byID := make(map[string]model.Message)
	for _, msg := range history[3:] {
		byID[msg.ToolCallID] = msg
	}
	assert.Equal(t, "Error: Unknown tool: get_weather", byID["call_weather"].Content)
	assert.JSONEq(t, `[{"c":"dvt:brake1"}]`, byID["call_graph"].Content)

	require.Len(t, ans.ToolCalls, 2)
	assert.False(t, ans.ToolCalls[0].Success)
	assert.True(t, ans.ToolCalls[1].Success)
}

func TestAskAssignsMissingCallIDs(t *testing.T) {
	q := `ASK { dvt:vehicle1 a dvt:Vehicle }`
	m := modeltest.New("scripted",
		modeltest.ToolCalls(graphCall("", q), graphCall("dup", q), graphCall("dup", q)),
		modeltest.Text("yes"),
	)
	ans, err := newOrchestrator(loadedBridge(t), m).Ask(context.Background(), "is vehicle1 a vehicle?")
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, r := range ans.ToolCalls {
		assert.NotEmpty(t, r.CallID)
		assert.Equal(t, "true", r.Content)
		ids[r.CallID] = true
	}
	assert.Len(t, ids, 3)
	assert.True(t, ids["dup"])

	history := m.Requests()[1].Messages
	for i, tc := range history[2].ToolCalls {
		assert.Equal(t, tc.ID, history[3+i].ToolCallID)
	}
}

func TestAskSynthesisFailureReturnsRawResults(t *testing.T) {
	m := modeltest.New("scripted",
		modeltest.ToolCalls(graphCall("call_1", testutil.FaultyVehicleQuery)),
		modeltest.Fail(apperrors.Temporary(apperrors.CodeModelUnavailable, "API unavailable")),
	)
	ans, err := newOrchestrator(loadedBridge(t), m).Ask(context.Background(), "faulty?")
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "couldn't generate a final response")
	assert.Contains(t, ans.Text, "dvt:vehicle1")
}

func TestAskEmptySynthesisReturnsRawResults(t *testing.T) {
	m := modeltest.New("scripted",
		modeltest.ToolCalls(graphCall("call_1", testutil.FaultyVehicleQuery)),
		modeltest.Text(""),
	)
	ans, err := newOrchestrator(loadedBridge(t), m).Ask(context.Background(), "faulty?")
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "couldn't generate a final response")
	assert.Contains(t, ans.Text, "dvt:vehicle1")
	assert.Equal(t, 0, m.Remaining())
}

func TestAskFirstTurnFailure(t *testing.T) {
	boom := apperrors.Temporary(apperrors.CodeModelUnavailable, "API unavailable")
	m := modeltest.New("scripted", modeltest.Fail(boom))
	o := newOrchestrator(loadedBridge(t), m)

	_, err := o.Ask(context.Background(), "faulty?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, int64(1), o.Stats().Collect(0, "").ErrorCount)
}

func TestAskEmptyModelResponse(t *testing.T) {
	m := modeltest.New("scripted", modeltest.Text(""))
	_, err := newOrchestrator(loadedBridge(t), m).Ask(context.Background(), "faulty?")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeModelInvalidResponse))
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	m := modeltest.New("scripted")
	_, err := newOrchestrator(loadedBridge(t), m).Ask(context.Background(), "   ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))
	assert.Empty(t, m.Requests())
}

func TestAskMultipleToolRounds(t *testing.T) {
	m := modeltest.New("scripted",
		modeltest.ToolCalls(graphCall("r1", `SELECT ?v WHERE { ?v a dvt:Vehicle }`)),
		modeltest.ToolCalls(graphCall("r2", testutil.FaultyVehicleQuery)),
		modeltest.Text("vehicle1"),
	)
	b := loadedBridge(t)
	o := New(Config{Snapshots: b, Model: m, MaxToolRounds: 2, SecondTurnTemperature: 0.3})

	ans, err := o.Ask(context.Background(), "which vehicle is faulty?")
	require.NoError(t, err)
	assert.Equal(t, "vehicle1", ans.Text)
	assert.Equal(t, 2, ans.Rounds)
	assert.Len(t, ans.ToolCalls, 2)

	reqs := m.Requests()
	require.Len(t, reqs, 3)
	assert.NotNil(t, reqs[1].Tools)
	assert.Equal(t, 0.0, reqs[1].Temperature)
	assert.Nil(t, reqs[2].Tools)
	assert.Equal(t, 0.3, reqs[2].Temperature)
	assert.Equal(t, []State{
		StateAwaitQuestion, StateFirstTurnIssued,
		StateToolCallsIssued, StateSecondTurnIssued,
		StateToolCallsIssued, StateSecondTurnIssued,
		StateAnswered,
	}, ans.States)
}

func TestAskEmitsEvents(t *testing.T) {
	m := modeltest.New("scripted",
		modeltest.ToolCalls(graphCall("call_1", testutil.FaultyVehicleQuery)),
		modeltest.Text("vehicle1"),
	)
	var events []Event
	_, err := newOrchestrator(loadedBridge(t), m).AskWithEvents(context.Background(), "faulty?", func(e Event) {
		events = append(events, e)
	})
	require.NoError(t, err)

	require.Len(t, events, 5)
	assert.Equal(t, StateFirstTurnIssued, events[0].State)
	assert.Equal(t, StateToolCallsIssued, events[1].State)
	assert.Equal(t, schemas.GraphQueryTool, events[2].ToolName)
	assert.Equal(t, "call_1", events[2].CallID)
	assert.True(t, events[2].Success)
	assert.Equal(t, StateSecondTurnIssued, events[3].State)
	assert.True(t, events[4].Done())
	assert.Equal(t, "vehicle1", events[4].Text)

	events = nil
	m2 := modeltest.New("scripted", modeltest.Text("hi"))
	_, err = newOrchestrator(loadedBridge(t), m2).AskWithEvents(context.Background(), "hello", func(e Event) {
		events = append(events, e)
	})
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.True(t, last.Done())
	assert.Equal(t, "hi", last.Text)
}

type memRecorder struct {
	mu  sync.Mutex
	got []*protocol.Exchange
}

func (r *memRecorder) RecordExchange(_ context.Context, ex *protocol.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ex)
	return nil
}

func TestAskRecordsExchange(t *testing.T) {
	rec := &memRecorder{}
	m := modeltest.New("scripted",
		modeltest.ToolCalls(graphCall("call_1", testutil.FaultyVehicleQuery)),
		modeltest.Text("vehicle1"),
	)
	b := loadedBridge(t)
	o := New(Config{Snapshots: b, Model: m, Recorder: rec})

	_, err := o.Ask(context.Background(), "faulty?")
	require.NoError(t, err)

	require.Len(t, rec.got, 1)
	assert.Equal(t, "faulty?", rec.got[0].Question)
	assert.Equal(t, "vehicle1", rec.got[0].Answer)
	assert.Equal(t, 1, rec.got[0].ToolCalls)
	assert.Equal(t, b.Snapshot().Generation, rec.got[0].Generation)
}

func TestTransitionsRejectIllegalMoves(t *testing.T) {
	assert.True(t, canTransition(StateSecondTurnIssued, StateToolCallsIssued))
	assert.False(t, canTransition(StateAwaitQuestion, StateSecondTurnIssued))
	assert.False(t, canTransition(StateAnswered, StateFirstTurnIssued))
	assert.False(t, canTransition(StateDirectAnswer, StateToolCallsIssued))
}
