// Package router dispatches validated generation requests across the
// provider registry: cache lookup, ordered sequential fallback under a
// per-candidate timeout and an overall deadline, pricing and usage recording.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"genrouter/internal/cache"
	"genrouter/internal/core"
	"genrouter/internal/fingerprint"
	"genrouter/internal/metrics"
	"genrouter/internal/telemetry"
	"genrouter/internal/usage"
	"genrouter/internal/validation"
)

// DefaultDeadline bounds a whole dispatch when Config.Deadline is unset.
const DefaultDeadline = 25 * time.Second

// CandidateSource yields the ordered fallback chain for a task.
type CandidateSource interface {
	CandidatesFor(task core.TaskType, modelOverride string) ([]core.Adapter, error)
}

// Config holds dispatch tuning.
type Config struct {
	// Deadline bounds the whole dispatch across every candidate.
	Deadline time.Duration
	// CandidateBackoff is the first pause before moving to the next candidate.
	// Zero moves on immediately.
	CandidateBackoff    time.Duration
	MaxCandidateBackoff time.Duration
	// CacheTTL applies when the request does not set its own.
	CacheTTL time.Duration
}

// Options carries the router's optional collaborators. Nil fields disable
// the matching feature.
type Options struct {
	Cache   cache.ResponseCache
	Usage   usage.LoggerInterface
	Tracker *usage.Tracker
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Router is safe for concurrent use. It holds no per-request state.
type Router struct {
	candidates CandidateSource
	cfg        Config
	cache      cache.ResponseCache
	usage      usage.LoggerInterface
	tracker    *usage.Tracker
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// New creates a router over candidates.
func New(candidates CandidateSource, cfg Config, opts Options) *Router {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.MaxCandidateBackoff < cfg.CandidateBackoff {
		cfg.MaxCandidateBackoff = cfg.CandidateBackoff
	}
	r := &Router{
		candidates: candidates,
		cfg:        cfg,
		cache:      opts.Cache,
		usage:      opts.Usage,
		tracker:    opts.Tracker,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		now:        time.Now,
	}
	if r.usage == nil {
		r.usage = &usage.NoopLogger{}
	}
	if r.tracer == nil {
		r.tracer = telemetry.Tracer()
	}
	return r
}

// Config returns the effective configuration.
func (r *Router) Config() Config {
	return r.cfg
}

// dispatch is the per-request state threaded through Route.
type dispatch struct {
	req         *core.ValidatedRequest
	fingerprint string
	requestID   string
	callerID    string
	started     time.Time
	failures    []core.ProviderFailure
}

func (d *dispatch) logAttrs(extra ...any) []any {
	attrs := []any{
		"request_id", d.requestID,
		"task_type", d.req.TaskType,
		"fingerprint", d.fingerprint,
	}
	return append(attrs, extra...)
}

// Route validates req and serves it from the cache or the first candidate
// that succeeds.
//
// Errors are *core.GatewayError except for caller cancellation, which is
// returned as context.Canceled. Nothing is cached on any error path.
func (r *Router) Route(ctx context.Context, req *core.GenerationRequest) (*core.Completion, error) {
	validated, err := validation.Validate(req)
	if err != nil {
		r.metrics.Request("", metrics.OutcomeInvalid)
		return nil, err
	}

	d := &dispatch{
		req:         validated,
		fingerprint: fingerprint.Of(validated),
		requestID:   core.GetRequestID(ctx),
		callerID:    validated.CallerID,
		started:     r.now(),
	}
	if d.callerID == "" {
		d.callerID = core.GetCallerID(ctx)
	}

	ctx, span := r.tracer.Start(ctx, "router.Route", trace.WithAttributes(
		attribute.String("genrouter.task_type", string(validated.TaskType)),
		attribute.String("genrouter.content_type", string(validated.ContentType)),
		attribute.String("genrouter.fingerprint", d.fingerprint),
	))
	defer span.End()

	completion, err := r.route(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.Request(string(validated.TaskType), outcomeOf(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("genrouter.provider", completion.Provider),
		attribute.Bool("genrouter.cached", completion.Cached),
	)
	return completion, nil
}

func (r *Router) route(ctx context.Context, d *dispatch) (*core.Completion, error) {
	if hit := r.lookup(ctx, d); hit != nil {
		return hit, nil
	}

	candidates, err := r.candidates.CandidatesFor(d.req.TaskType, d.req.ModelOverride)
	if err != nil {
		return nil, err
	}

	slog.Debug("dispatch started", d.logAttrs("candidates", len(candidates))...)

	dctx, cancel := context.WithTimeout(ctx, r.cfg.Deadline)
	defer cancel()

	backoff := r.newBackoff()
	for i, adapter := range candidates {
		if i > 0 && backoff != nil {
			if wait, stop := backoff.Next(); !stop {
				if err := sleep(dctx, wait); err != nil {
					break
				}
			}
		}
		if dctx.Err() != nil {
			break
		}

		result, err := r.attempt(dctx, d, adapter)
		if err == nil {
			return r.succeed(ctx, d, adapter, result, i+1), nil
		}

		if dctx.Err() != nil {
			break
		}
		if !core.IsTransient(err) {
			slog.Warn("provider rejected request",
				d.logAttrs("provider", adapter.Name(), "error", err)...)
			return nil, err
		}
	}

	return nil, r.fail(ctx, dctx, d)
}

// lookup returns a cached completion or nil.
func (r *Router) lookup(ctx context.Context, d *dispatch) *core.Completion {
	if r.cache == nil || !d.req.UseCache {
		return nil
	}
	cached, ok, err := r.cache.Get(ctx, d.fingerprint)
	if err != nil {
		slog.Warn("cache lookup failed", d.logAttrs("error", err)...)
		r.metrics.CacheLookup(false)
		return nil
	}
	r.metrics.CacheLookup(ok)
	if !ok {
		return nil
	}

	// The hit is a fresh answer to this request; only the content is reused.
	now := r.now()
	cached.Timestamp = now.UTC()
	cached.DurationMs = now.Sub(d.started).Milliseconds()

	slog.Info("cache hit", d.logAttrs("provider", cached.Provider)...)
	if r.tracker != nil {
		r.tracker.RecordCacheHit(string(d.req.TaskType), d.callerID)
	}
	r.metrics.Request(string(d.req.TaskType), metrics.OutcomeCached)
	return cached
}

// attempt calls one candidate under min(candidate timeout, remaining deadline).
// A failure is appended to d.failures.
func (r *Router) attempt(ctx context.Context, d *dispatch, adapter core.Adapter) (*core.ProviderResult, error) {
	ctx, span := r.tracer.Start(ctx, "provider.Call", trace.WithAttributes(
		attribute.String("genrouter.provider", adapter.Name()),
	))
	defer span.End()

	start := r.now()
	result, err := call(ctx, adapter, &core.ProviderRequest{
		Model:        modelFor(adapter, d.req.ModelOverride),
		TaskType:     d.req.TaskType,
		SystemPrompt: d.req.SystemPrompt,
		Prompt:       d.req.Prompt,
		MaxTokens:    d.req.MaxTokens,
		Temperature:  d.req.Temperature,
		CallerID:     d.callerID,
	})
	elapsed := r.now().Sub(start)

	if err == nil {
		r.metrics.ProviderCall(adapter.Name(), "success", elapsed)
		return result, nil
	}

	kind := failureKind(err)
	d.failures = append(d.failures, core.ProviderFailure{
		Provider: adapter.Name(),
		Kind:     kind,
		Message:  err.Error(),
	})
	r.metrics.ProviderCall(adapter.Name(), string(kind), elapsed)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	slog.Warn("provider call failed", d.logAttrs(
		"provider", adapter.Name(),
		"kind", kind,
		"duration_ms", elapsed.Milliseconds(),
		"error", err,
	)...)
	return nil, err
}

// call runs adapter.Call and abandons it when ctx ends first. A late result
// is discarded.
func call(ctx context.Context, adapter core.Adapter, req *core.ProviderRequest) (*core.ProviderResult, error) {
	timeout := adapter.Timeout()
	if timeout <= 0 {
		timeout = DefaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *core.ProviderResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		// A panicking adapter is a failed candidate, not a dead process.
		defer func() {
			if p := recover(); p != nil {
				slog.Error("provider panicked",
					"provider", adapter.Name(),
					"panic", p,
					"stack", string(debug.Stack()),
				)
				done <- outcome{err: core.NewProviderError(adapter.Name(), http.StatusBadGateway,
					"provider panicked", fmt.Errorf("panic: %v", p))}
			}
		}()
		result, err := adapter.Call(ctx, req)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		if o.err == nil && o.result == nil {
			return nil, core.NewProviderError(adapter.Name(), http.StatusBadGateway, "provider returned no result", nil)
		}
		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, core.NewTimeoutError(adapter.Name(), ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (r *Router) succeed(ctx context.Context, d *dispatch, adapter core.Adapter, result *core.ProviderResult, attempts int) *core.Completion {
	// Price by the model that was requested from the adapter: providers often
	// report a dated snapshot id that has no entry of its own.
	requested := modelFor(adapter, d.req.ModelOverride)
	if requested == "" {
		if models := adapter.Models(); len(models) > 0 {
			requested = models[0]
		}
	}
	model := result.ModelUsed
	if model == "" {
		model = requested
	}
	cost := usage.Price(adapter.Pricing(requested), result.TokensInput, result.TokensOutput)
	now := r.now()

	completion := &core.Completion{
		Content:      result.Content,
		Provider:     adapter.Name(),
		Model:        model,
		ContentType:  d.req.ContentType,
		TaskType:     d.req.TaskType,
		TokensInput:  result.TokensInput,
		TokensOutput: result.TokensOutput,
		TokensTotal:  result.TokensInput + result.TokensOutput,
		CostUSD:      cost,
		DurationMs:   now.Sub(d.started).Milliseconds(),
		Timestamp:    now.UTC(),
	}

	if r.cache != nil && d.req.UseCache {
		ttl := d.req.CacheTTL
		if ttl <= 0 {
			ttl = r.cfg.CacheTTL
		}
		if err := r.cache.Set(ctx, d.fingerprint, completion, ttl); err != nil {
			slog.Warn("cache store failed", d.logAttrs("error", err)...)
		}
	}

	entry := &usage.UsageEntry{
		ID:           uuid.NewString(),
		RequestID:    d.requestID,
		Timestamp:    completion.Timestamp,
		Provider:     completion.Provider,
		Model:        completion.Model,
		TaskType:     string(completion.TaskType),
		ContentType:  string(completion.ContentType),
		CallerID:     d.callerID,
		Fingerprint:  d.fingerprint,
		InputTokens:  completion.TokensInput,
		OutputTokens: completion.TokensOutput,
		TotalTokens:  completion.TokensTotal,
		CostUSD:      completion.CostUSD,
		DurationMs:   completion.DurationMs,
		Attempts:     attempts,
	}
	r.usage.Write(entry)
	if r.tracker != nil {
		r.tracker.Record(entry)
	}
	r.metrics.Usage(completion.Provider, completion.TokensInput, completion.TokensOutput, completion.CostUSD)
	r.metrics.Request(string(d.req.TaskType), metrics.OutcomeServed)

	slog.Info("dispatch succeeded", d.logAttrs(
		"provider", completion.Provider,
		"model", completion.Model,
		"attempts", attempts,
		"cost_usd", completion.CostUSD,
		"duration_ms", completion.DurationMs,
	)...)
	return completion
}

// fail builds the terminal error once the loop gives up. ctx is the caller's
// context and dctx the one carrying the overall deadline.
func (r *Router) fail(ctx, dctx context.Context, d *dispatch) error {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		slog.Info("dispatch canceled", d.logAttrs("attempts", len(d.failures))...)
		return err
	}
	if dctx.Err() != nil {
		slog.Warn("dispatch deadline exceeded", d.logAttrs("attempts", len(d.failures))...)
		return core.NewDeadlineError(d.failures)
	}
	slog.Warn("providers exhausted", d.logAttrs("failures", len(d.failures))...)
	return core.NewExhaustedError(d.failures)
}

// modelFor returns the override when adapter owns it. Fallback candidates get
// "" and run their own default model.
func modelFor(adapter core.Adapter, override string) string {
	if override == "" {
		return ""
	}
	for _, m := range adapter.Models() {
		if m == override {
			return override
		}
	}
	return ""
}

func (r *Router) newBackoff() retry.Backoff {
	if r.cfg.CandidateBackoff <= 0 {
		return nil
	}
	b := retry.NewExponential(r.cfg.CandidateBackoff)
	b = retry.WithCappedDuration(r.cfg.MaxCandidateBackoff, b)
	return retry.WithJitterPercent(10, b)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func failureKind(err error) core.ErrorType {
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrorTypeTimeout
	}
	return core.ErrorTypeProvider
}

func outcomeOf(err error) string {
	if errors.Is(err, context.Canceled) {
		return metrics.OutcomeCanceled
	}
	var gwErr *core.GatewayError
	if !errors.As(err, &gwErr) {
		return metrics.OutcomeExhausted
	}
	switch gwErr.Type {
	case core.ErrorTypeInvalidRequest:
		return metrics.OutcomeInvalid
	case core.ErrorTypeDeadline:
		return metrics.OutcomeDeadline
	case core.ErrorTypeExhausted:
		return metrics.OutcomeExhausted
	default:
		return metrics.OutcomeRejected
	}
}
