// Package agent drives the question-answering conversation.
//
// Each question is a fresh exchange: the model sees the question and the
// tools of the current snapshot, may propose tool calls, and after the
// calls run it synthesizes an answer from their results. No state is
// carried between questions.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flynn-ai/kgbridge/internal/bridge"
	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/model"
	"github.com/flynn-ai/kgbridge/internal/prompt"
	"github.com/flynn-ai/kgbridge/internal/stats"
	"github.com/flynn-ai/kgbridge/internal/tools"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

const tracerName = "kgbridge/agent"

// NoSourceAnswer is returned, without calling the model, when no source
// has been uploaded.
const NoSourceAnswer = "No ontology has been loaded yet. Please upload an ontology source first."

// NoToolsAnswer is returned when a source was uploaded but neither the
// graph nor the retrieval index could be built from it.
const NoToolsAnswer = "The uploaded ontology could not be loaded, so there is nothing to query yet. Please upload a valid ontology source first."

// Snapshotter returns the currently published snapshot.
type Snapshotter interface {
	Snapshot() *bridge.Snapshot
}

// Recorder persists answered exchanges.
type Recorder interface {
	RecordExchange(ctx context.Context, ex *protocol.Exchange) error
}

// Config configures the Orchestrator.
type Config struct {
	Snapshots Snapshotter
	Model     model.Model
	Prompt    *prompt.Builder
	// Namespaces supplies the prefix table when the snapshot has no graph.
	Namespaces *graph.Namespaces
	Stats      *stats.Collector
	Recorder   Recorder
	Logger     *slog.Logger

	FirstTurnTemperature  float64
	SecondTurnTemperature float64
	MaxTokens             int
	// MaxToolRounds bounds how many times tool results are fed back with
	// tools still offered. 1 is the classic two-turn exchange.
	MaxToolRounds int
	ToolTimeout   time.Duration
}

// Orchestrator answers questions against the current snapshot.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// Answer is the outcome of one question.
type Answer struct {
	Text       string                    `json:"text"`
	ToolCalls  []protocol.ToolCallResult `json:"tool_calls,omitempty"`
	Rounds     int                       `json:"rounds"`
	Generation uint64                    `json:"generation"`
	Model      string                    `json:"model,omitempty"`
	TokensUsed int                       `json:"tokens_used"`
	DurationMs int64                     `json:"duration_ms"`
	States     []State                   `json:"states"`
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prompt == nil {
		cfg.Prompt = prompt.NewBuilder(prompt.ModeFull)
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.MaxToolRounds < 1 {
		cfg.MaxToolRounds = 1
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger}
}

// Stats returns the collector the orchestrator records into.
func (o *Orchestrator) Stats() *stats.Collector { return o.cfg.Stats }

// Ask answers one question.
func (o *Orchestrator) Ask(ctx context.Context, question string) (*Answer, error) {
	return o.AskWithEvents(ctx, question, nil)
}

// AskWithEvents answers one question and reports progress to cb.
func (o *Orchestrator) AskWithEvents(ctx context.Context, question string, cb EventCallback) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.NewBuilder(apperrors.CodeInvalidInput, "No message provided.").User().Build()
	}

	snap := o.cfg.Snapshots.Snapshot()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.ask",
		trace.WithAttributes(
			attribute.Int64("snapshot.generation", int64(snap.Generation)),
			attribute.Int("tools.count", snap.Tools.Len()),
		))
	defer span.End()

	c := &conversation{
		o:     o,
		snap:  snap,
		cb:    cb,
		state: StateAwaitQuestion,
		start: time.Now(),
		ans:   &Answer{Generation: snap.Generation, States: []State{StateAwaitQuestion}},
	}

	ans, err := c.run(ctx, question)
	if err != nil {
		o.cfg.Stats.RecordError()
		span.RecordError(err)
		span.SetStatus(codes.Error, apperrors.UserMessage(err))
		o.logger.Error("question failed", "generation", snap.Generation, "error", err)
		return nil, err
	}

	ans.DurationMs = time.Since(c.start).Milliseconds()
	o.cfg.Stats.RecordRequest(ans.TokensUsed, len(ans.ToolCalls), time.Since(c.start))
	span.SetAttributes(
		attribute.Int("tool_calls", len(ans.ToolCalls)),
		attribute.Int("rounds", ans.Rounds))
	o.record(ctx, question, ans)
	return ans, nil
}

func (o *Orchestrator) record(ctx context.Context, question string, ans *Answer) {
	if o.cfg.Recorder == nil {
		return
	}
	ex := &protocol.Exchange{
		Question:   question,
		Answer:     ans.Text,
		ToolCalls:  len(ans.ToolCalls),
		Model:      ans.Model,
		DurationMs: ans.DurationMs,
		Generation: ans.Generation,
		CreatedAt:  time.Now(),
	}
	if err := o.cfg.Recorder.RecordExchange(context.WithoutCancel(ctx), ex); err != nil {
		o.logger.Warn("failed to record exchange", "error", err)
	}
}

// conversation is the state of one question. It is discarded once the
// answer is returned.
type conversation struct {
	o        *Orchestrator
	snap     *bridge.Snapshot
	cb       EventCallback
	state    State
	messages []model.Message
	start    time.Time
	ans      *Answer
}

func (c *conversation) run(ctx context.Context, question string) (*Answer, error) {
	if c.snap.Tools.Len() == 0 {
		text := NoSourceAnswer
		if c.snap.Source != nil {
			text = NoToolsAnswer
		}
		return c.answer(text)
	}

	c.messages = []model.Message{
		{Role: model.RoleSystem, Content: c.systemPrompt()},
		{Role: model.RoleUser, Content: question},
	}
	dispatcher := tools.NewDispatcher(c.snap.Tools, c.o.cfg.ToolTimeout, c.o.logger)

	if err := c.transition(StateFirstTurnIssued); err != nil {
		return nil, err
	}
	resp, err := c.chat(ctx, "first", true, c.o.cfg.FirstTurnTemperature)
	if err != nil {
		return nil, err
	}
	if resp.Text() == "" && len(resp.ToolCalls()) == 0 {
		return nil, apperrors.NewBuilder(apperrors.CodeModelInvalidResponse, "model returned empty response").
			Temporary().
			WithSuggestion("Try rephrasing your question").
			Build()
	}
	if len(resp.ToolCalls()) == 0 {
		if err := c.transition(StateDirectAnswer); err != nil {
			return nil, err
		}
		return c.answer(resp.Text())
	}

	for round := 1; ; round++ {
		c.ans.Rounds = round
		if err := c.transition(StateToolCallsIssued); err != nil {
			return nil, err
		}
		results := c.dispatch(ctx, dispatcher, resp, round)

		if err := c.transition(StateSecondTurnIssued); err != nil {
			return nil, err
		}
		offerTools := round < c.o.cfg.MaxToolRounds
		temperature := c.o.cfg.SecondTurnTemperature
		if offerTools {
			temperature = c.o.cfg.FirstTurnTemperature
		}
		resp, err = c.chat(ctx, "second", offerTools, temperature)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			c.o.logger.Warn("synthesis turn failed, returning raw tool output", "error", err)
			return c.answer(rawResults(results))
		}
		if !offerTools || len(resp.ToolCalls()) == 0 {
			if strings.TrimSpace(resp.Text()) == "" {
				c.o.logger.Warn("synthesis turn returned no text, returning raw tool output")
				return c.answer(rawResults(results))
			}
			return c.answer(resp.Text())
		}
	}
}

// dispatch runs every proposed call and appends the assistant proposal
// and one tool message per result to the history. Results are matched to
// proposals by call ID.
func (c *conversation) dispatch(ctx context.Context, d *tools.Dispatcher, resp *model.Response, round int) []protocol.ToolCallResult {
	proposal := resp.Message
	proposal.ToolCalls = make([]model.ToolCall, len(resp.ToolCalls()))
	reqs := make([]protocol.ToolCallRequest, len(resp.ToolCalls()))
	seen := make(map[string]bool)
	for i, tc := range resp.ToolCalls() {
		if tc.ID == "" || seen[tc.ID] {
			tc.ID = "call_" + uuid.NewString()
		}
		seen[tc.ID] = true
		proposal.ToolCalls[i] = tc
		reqs[i] = protocol.ToolCallRequest{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}
	c.messages = append(c.messages, proposal)

	results := d.ExecuteAll(ctx, reqs)
	byID := make(map[string]protocol.ToolCallResult, len(results))
	for _, r := range results {
		byID[r.CallID] = r
		c.emit(Event{State: c.state, Round: round, ToolName: r.Name, CallID: r.CallID, Success: r.Success})
	}
	for _, tc := range proposal.ToolCalls {
		r := byID[tc.ID]
		c.messages = append(c.messages, model.Message{
			Role:       model.RoleTool,
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Content:    r.Content,
		})
		c.ans.ToolCalls = append(c.ans.ToolCalls, r)
	}
	return results
}

func (c *conversation) chat(ctx context.Context, turn string, offerTools bool, temperature float64) (*model.Response, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "model.chat",
		trace.WithAttributes(
			attribute.String("turn", turn),
			attribute.Bool("tools.offered", offerTools),
			attribute.Int("messages", len(c.messages)),
		))
	defer span.End()

	req := &model.Request{
		Messages:    c.messages,
		Temperature: temperature,
		MaxTokens:   c.o.cfg.MaxTokens,
	}
	if offerTools {
		req.Tools = c.snap.Tools.ToOpenAIFormat()
	}

	start := time.Now()
	resp, err := c.o.cfg.Model.Chat(ctx, req)
	stats.RecordModelCall(turn, time.Since(start), err)
	if err != nil {
		span.SetStatus(codes.Error, apperrors.UserMessage(err))
		return nil, err
	}

	c.ans.Model = resp.Model
	c.ans.TokensUsed += resp.TokensUsed
	span.SetAttributes(attribute.Int("tool_calls", len(resp.ToolCalls())))
	return resp, nil
}

func (c *conversation) transition(to State) error {
	if !canTransition(c.state, to) {
		return apperrors.System(apperrors.CodeModelInvalidResponse, fmt.Sprintf("illegal transition %s -> %s", c.state, to))
	}
	c.state = to
	c.ans.States = append(c.ans.States, to)
	c.emit(Event{State: to, Round: c.ans.Rounds})
	return nil
}

func (c *conversation) answer(text string) (*Answer, error) {
	if err := c.transition(StateAnswered); err != nil {
		return nil, err
	}
	c.ans.Text = text
	if c.cb != nil {
		c.cb(Event{State: StateAnswered, Round: c.ans.Rounds, Text: text})
	}
	return c.ans, nil
}

func (c *conversation) emit(e Event) {
	if c.cb != nil && e.State != StateAnswered {
		c.cb(e)
	}
}

func (c *conversation) systemPrompt() string {
	ns := c.o.cfg.Namespaces
	if c.snap.HasGraph() {
		ns = c.snap.Graph.Namespaces()
	}
	sc := prompt.SystemContext{Tools: c.snap.Tools.Specs()}
	if ns != nil {
		sc.Prefixes = ns.PrefixDeclarations()
	}
	if c.snap.Source != nil {
		sc.Source = c.snap.Source.Name
	}
	return c.o.cfg.Prompt.BuildSystemPrompt(sc)
}

// rawResults renders tool output when the synthesis turn is unavailable.
func rawResults(results []protocol.ToolCallResult) string {
	var b strings.Builder
	b.WriteString("I executed the tools but couldn't generate a final response. Here are the raw results:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "\n%s (%s):\n%s\n", r.Name, r.CallID, r.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
