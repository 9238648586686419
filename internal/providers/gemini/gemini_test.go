package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"genrouter/config"
	"genrouter/internal/core"
	"genrouter/internal/providers"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New("g-key", providers.ProviderOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Resilience: config.ResilienceConfig{MaxRetries: -1},
	}).(*Provider)
}

func TestGenerate_Success(t *testing.T) {
	var got generateRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-1.5-flash:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Errorf("x-goog-api-key = %q", r.Header.Get("x-goog-api-key"))
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Step 1. "}, {"text": "Step 2."}]}}],
			"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 4, "totalTokenCount": 13}
		}`))
	})

	result, err := p.Generate(context.Background(), &core.ProviderRequest{
		Model:        "gemini-1.5-flash",
		SystemPrompt: "Be operational.",
		Prompt:       "Draft an email",
		MaxTokens:    256,
		Temperature:  0.3,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Content != "Step 1. Step 2." {
		t.Errorf("Content = %q", result.Content)
	}
	if result.TokensInput != 9 || result.TokensOutput != 4 {
		t.Errorf("tokens = %d/%d, want 9/4", result.TokensInput, result.TokensOutput)
	}
	if result.ModelUsed != "gemini-1.5-flash" {
		t.Errorf("ModelUsed = %q, want the requested model when modelVersion is absent", result.ModelUsed)
	}

	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "Be operational." {
		t.Errorf("SystemInstruction = %+v", got.SystemInstruction)
	}
	if got.GenerationConfig.MaxOutputTokens != 256 || got.GenerationConfig.Temperature != 0.3 {
		t.Errorf("GenerationConfig = %+v", got.GenerationConfig)
	}
}

func TestParseGenerateResponse_Blocked(t *testing.T) {
	_, err := parseGenerateResponse("gemini", []byte(`{"promptFeedback": {"blockReason": "SAFETY"}}`))
	var gwErr *core.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("error = %v, want *core.GatewayError", err)
	}
	if gwErr.Type != core.ErrorTypeRejected {
		t.Errorf("Type = %q, want %q", gwErr.Type, core.ErrorTypeRejected)
	}
	if gwErr.Transient() {
		t.Error("a blocked prompt must not be retried on another provider")
	}
}

func TestParseGenerateResponse_NoCandidates(t *testing.T) {
	_, err := parseGenerateResponse("gemini", []byte(`{"candidates": []}`))
	var gwErr *core.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("error = %v, want *core.GatewayError", err)
	}
	if gwErr.Type != core.ErrorTypeProvider {
		t.Errorf("Type = %q", gwErr.Type)
	}
}
