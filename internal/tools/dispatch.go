package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/stats"
	"github.com/flynn-ai/kgbridge/internal/tools/executor"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

const tracerName = "kgbridge/tools"

// Dispatcher executes tool calls against one registry. Every call ends in
// a result; failures become error content instead of Go errors.
type Dispatcher struct {
	reg     *Registry
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. timeout bounds each call; zero
// leaves calls bounded only by the caller's context.
func NewDispatcher(reg *Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if reg == nil {
		reg = Empty()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{reg: reg, timeout: timeout, logger: logger}
}

// ExecuteAll runs every request concurrently and returns the results in
// request order. One call failing never affects the others.
func (d *Dispatcher) ExecuteAll(ctx context.Context, reqs []protocol.ToolCallRequest) []protocol.ToolCallResult {
	results := make([]protocol.ToolCallResult, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = d.Execute(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Execute runs one request through validation, execution and
// normalization.
func (d *Dispatcher) Execute(ctx context.Context, req protocol.ToolCallRequest) protocol.ToolCallResult {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tools.execute",
		trace.WithAttributes(
			attribute.String("tool.name", req.Name),
			attribute.String("tool.call_id", req.ID),
		))
	defer span.End()

	call := d.reg.Decode(req)
	res := d.run(ctx, call)

	out := protocol.ToolCallResult{
		CallID:     req.ID,
		Name:       req.Name,
		Success:    res.Success,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if res.Success {
		content, err := Normalize(res.Data)
		if err != nil {
			res = executor.NewErrorResult(apperrors.Wrap(err, apperrors.CodeQueryError, "tool result could not be serialized", apperrors.CategorySystem))
			out.Success = false
		} else {
			out.Content = content
		}
	}
	if !res.Success {
		out.Content = "Error: " + res.Error
		span.SetStatus(codes.Error, res.Error)
		d.logger.Warn("tool call failed",
			"tool", req.Name,
			"call_id", req.ID,
			"error", res.Err)
	}

	stats.RecordToolCall(metricName(call), stats.OutcomeOf(res.Err), time.Since(start))
	span.SetAttributes(attribute.Bool("tool.success", out.Success))
	return out
}

func (d *Dispatcher) run(ctx context.Context, call Call) (res *executor.Result) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("tool call panicked", "tool", call.ToolName(), "panic", p)
			res = executor.NewErrorResult(apperrors.System(apperrors.CodeQueryError, fmt.Sprintf("%s failed unexpectedly", call.ToolName())))
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	switch c := call.(type) {
	case GraphQueryCall:
		res = d.reg.graph.Run(ctx, c.Query)
	case RetrievalCall:
		res = d.reg.retrieval.Run(ctx, c.Text, c.K)
	case UnknownCall:
		res = executor.NewErrorResult(apperrors.InvalidToolCall("Unknown tool: %s", c.Name))
	case UnavailableCall:
		res = executor.NewErrorResult(c.Err)
	case MalformedCall:
		res = executor.NewErrorResult(c.Err)
	default:
		res = executor.NewErrorResult(apperrors.InvalidToolCall("unsupported call %T", call))
	}

	if !res.Success && errors.Is(ctx.Err(), context.DeadlineExceeded) && !apperrors.IsTimeout(res.Err) {
		res = executor.NewErrorResult(apperrors.BackendTimeout(call.ToolName(), res.Err))
	}
	return res
}

// metricName keeps label cardinality bounded: unknown names are grouped.
func metricName(call Call) string {
	if _, ok := call.(UnknownCall); ok {
		return "unknown"
	}
	return call.ToolName()
}

// Normalize renders a tool payload as conversation content. Strings pass
// through, lists and mappings become JSON, other scalars their text form.
func Normalize(data any) (string, error) {
	switch v := data.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}

	switch reflect.ValueOf(data).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct, reflect.Pointer:
		raw, err := json.Marshal(data)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		return fmt.Sprint(data), nil
	}
}
