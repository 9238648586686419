package providers

import (
	"context"
	"sync/atomic"
	"testing"

	"genrouter/internal/core"
)

// mockProvider is a core.Provider returning a fixed result or error.
type mockProvider struct {
	result       *core.ProviderResult
	err          error
	availableErr error
	calls        atomic.Int32
	lastModel    atomic.Value
	block        chan struct{}
}

func (m *mockProvider) Generate(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResult, error) {
	m.calls.Add(1)
	m.lastModel.Store(req.Model)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	r := *m.result
	return &r, nil
}

type checkingProvider struct {
	mockProvider
}

func (c *checkingProvider) CheckAvailability(context.Context) error {
	return c.availableErr
}

func okProvider(content string) *mockProvider {
	return &mockProvider{result: &core.ProviderResult{Content: content, TokensInput: 10, TokensOutput: 5}}
}

func mustAdapter(t *testing.T, name string, p core.Provider, profile Profile) core.Adapter {
	t.Helper()
	a, err := NewAdapter(name, p, profile)
	if err != nil {
		t.Fatalf("NewAdapter(%s): %v", name, err)
	}
	return a
}
