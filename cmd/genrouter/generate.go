package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"genrouter/internal/core"
	"genrouter/internal/validation"
)

type generateFlags struct {
	contentType  string
	model        string
	systemPrompt string
	userID       string
	temperature  float64
	maxTokens    int
	noCache      bool
	cacheTTL     int
	output       string
}

func newGenerateCmd() *cobra.Command {
	var f generateFlags

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Route a single generation request and print the result",
		Long: `Route a single generation request through the configured providers
without starting the HTTP server. The prompt is taken from the arguments,
or from stdin when the only argument is "-".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			req := &core.GenerationRequest{
				Prompt:        prompt,
				ContentType:   core.ContentType(f.contentType),
				ModelOverride: f.model,
				SystemPrompt:  f.systemPrompt,
				CallerID:      f.userID,
				CacheTTL:      validation.CacheTTLFromSeconds(f.cacheTTL),
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &f.temperature
			}
			if cmd.Flags().Changed("max-tokens") {
				req.MaxTokens = &f.maxTokens
			}
			if f.noCache {
				useCache := false
				req.UseCache = &useCache
			}

			ctx := cmd.Context()
			// Logs go to stderr so stdout carries only the result.
			a, _, err := loadApp(ctx, os.Stderr, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(ctx) }()

			completion, err := a.Router().Route(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if f.output == "text" {
				_, err = fmt.Fprintln(out, completion.Content)
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(completion)
		},
	}

	cmd.Flags().StringVarP(&f.contentType, "type", "t", string(core.ContentText), "Content type: text, image, code, email, creative or analysis")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Prefer the provider that owns this model")
	cmd.Flags().StringVarP(&f.systemPrompt, "system", "s", "", "System prompt (defaults to the content type's prompt)")
	cmd.Flags().StringVar(&f.userID, "user", "", "Caller id used for spend attribution")
	cmd.Flags().Float64Var(&f.temperature, "temperature", validation.DefaultTemperature, "Sampling temperature (0-2)")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", validation.DefaultMaxTokens, "Maximum tokens to generate")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "Bypass the response cache")
	cmd.Flags().IntVar(&f.cacheTTL, "cache-ttl", 0, "Cache TTL in seconds for this result (0 uses the configured TTL)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "json", "Output format: json or text")
	return cmd
}

func readPrompt(args []string, in io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.Join(args, " "), nil
}
