package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"genrouter/internal/core"
	"genrouter/internal/usage"
)

// fakeAdapter is a core.Adapter whose behavior is a plain function.
type fakeAdapter struct {
	name     string
	tasks    []core.TaskType
	priority int
	models   []string
	pricing  core.Pricing
	timeout  time.Duration
	fn       func(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResult, error)

	calls   atomic.Int32
	lastReq atomic.Pointer[core.ProviderRequest]
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Models() []string {
	if len(f.models) == 0 {
		return []string{f.name + "-model"}
	}
	return f.models
}

func (f *fakeAdapter) Supports(task core.TaskType) bool {
	if len(f.tasks) == 0 {
		return true
	}
	for _, t := range f.tasks {
		if t == task {
			return true
		}
	}
	return false
}

func (f *fakeAdapter) Priority(core.TaskType) int   { return f.priority }
func (f *fakeAdapter) Pricing(string) core.Pricing { return f.pricing }

func (f *fakeAdapter) Timeout() time.Duration {
	if f.timeout == 0 {
		return time.Second
	}
	return f.timeout
}

func (f *fakeAdapter) Call(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResult, error) {
	f.calls.Add(1)
	f.lastReq.Store(req)
	return f.fn(ctx, req)
}

func succeeding(name string, priority int, content string) *fakeAdapter {
	return &fakeAdapter{
		name:     name,
		priority: priority,
		fn: func(context.Context, *core.ProviderRequest) (*core.ProviderResult, error) {
			return &core.ProviderResult{Content: content, ModelUsed: name + "-model", TokensInput: 100, TokensOutput: 50}, nil
		},
	}
}

func failing(name string, priority int, err error) *fakeAdapter {
	return &fakeAdapter{
		name:     name,
		priority: priority,
		fn: func(context.Context, *core.ProviderRequest) (*core.ProviderResult, error) {
			return nil, err
		},
	}
}

// blocking waits for ctx to end, like a provider that never answers.
func blocking(name string, priority int, timeout time.Duration) *fakeAdapter {
	return &fakeAdapter{
		name:     name,
		priority: priority,
		timeout:  timeout,
		fn: func(ctx context.Context, _ *core.ProviderRequest) (*core.ProviderResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

// recordingLogger captures usage entries in memory.
type recordingLogger struct {
	mu      sync.Mutex
	entries []*usage.UsageEntry
}

func (l *recordingLogger) Write(e *usage.UsageEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *recordingLogger) Config() usage.Config { return usage.Config{Enabled: true} }
func (l *recordingLogger) Close() error         { return nil }

func (l *recordingLogger) Entries() []*usage.UsageEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*usage.UsageEntry(nil), l.entries...)
}
