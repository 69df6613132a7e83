package model

import (
	"context"
	"log/slog"

	"github.com/flynn-ai/kgbridge/internal/config"
	"github.com/flynn-ai/kgbridge/internal/cost"
	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
)

// Router sends requests to a primary model and falls back to a secondary
// one when the primary is unavailable or fails with a transient error.
type Router struct {
	primary  Model
	fallback Model
	usage    *cost.Tracker
	logger   *slog.Logger
}

// NewRouter creates a new model router. fallback may be nil.
func NewRouter(primary, fallback Model, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{primary: primary, fallback: fallback, usage: cost.NewTracker(), logger: logger}
}

// NewFromConfig builds the primary client and, when configured, a
// keyless fallback pointing at an OpenAI-compatible local server.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Router {
	primary := NewOpenAIClient(&OpenAIConfig{
		APIKey:     cfg.APIKey(),
		BaseURL:    cfg.Model.BaseURL,
		Model:      cfg.Model.Name,
		Timeout:    cfg.RequestTimeout(),
		MaxRetries: 3,
	})

	var fallback Model
	if cfg.Model.FallbackBaseURL != "" {
		fallback = NewOpenAIClient(&OpenAIConfig{
			BaseURL:    cfg.Model.FallbackBaseURL,
			Model:      cfg.Model.FallbackName,
			Timeout:    cfg.RequestTimeout(),
			MaxRetries: 1,
			Keyless:    true,
		})
	}
	r := NewRouter(primary, fallback, logger)
	r.usage.SetRate(cfg.Model.Name, cfg.Model.CostPerMillion)
	return r
}

// Usage returns the token usage tracker. Fallback completions count as
// local.
func (r *Router) Usage() *cost.Tracker { return r.usage }

// Route picks the model for the next request.
func (r *Router) Route() Model {
	if r.primary != nil && r.primary.IsAvailable() {
		return r.primary
	}
	if r.fallback != nil && r.fallback.IsAvailable() {
		return r.fallback
	}
	return nil
}

// Chat implements Model.
func (r *Router) Chat(ctx context.Context, req *Request) (*Response, error) {
	m := r.Route()
	if m == nil {
		return nil, apperrors.NewBuilder(apperrors.CodeModelUnavailable, "no model available").
			Permanent().
			WithSuggestion("Set OPENAI_API_KEY or configure model.fallback_base_url").
			Build()
	}

	resp, err := m.Chat(ctx, req)
	if err != nil && m != r.fallback && r.shouldFallback(ctx, err) {
		r.logger.Warn("primary model failed, using fallback",
			"primary", m.Name(),
			"fallback", r.fallback.Name(),
			"error", err)
		m = r.fallback
		resp, err = m.Chat(ctx, req)
	}
	if err == nil {
		r.usage.Record(m.Name(), m == r.fallback, resp.TokensUsed)
	}
	return resp, err
}

func (r *Router) shouldFallback(ctx context.Context, err error) bool {
	if r.fallback == nil || !r.fallback.IsAvailable() || ctx.Err() != nil {
		return false
	}
	switch apperrors.Code(err) {
	case apperrors.CodeModelUnavailable, apperrors.CodeModelRateLimit, apperrors.CodeBackendTimeout:
		return true
	}
	return apperrors.IsRetryable(err)
}

// IsAvailable reports whether any model can serve requests.
func (r *Router) IsAvailable() bool { return r.Route() != nil }

// Name returns the name of the model the next request would use.
func (r *Router) Name() string {
	if m := r.Route(); m != nil {
		return m.Name()
	}
	return "none"
}

// Status returns the status of the routed model.
func (r *Router) Status() *Status {
	if m := r.Route(); m != nil {
		return m.Status()
	}
	return &Status{Name: "none", Error: "no model available"}
}

// GetStatus returns the status of all configured models.
func (r *Router) GetStatus() map[string]*Status {
	status := make(map[string]*Status)
	if r.primary != nil {
		status["primary"] = r.primary.Status()
	}
	if r.fallback != nil {
		status["fallback"] = r.fallback.Status()
	}
	return status
}
