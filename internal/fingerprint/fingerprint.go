// Package fingerprint derives deterministic cache keys for generation requests.
package fingerprint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"genrouter/internal/core"
)

// sep cannot appear in the rendered numeric fields and is unusual in prompts.
// Every field is length-prefixed as well, so the encoding stays unambiguous.
const sep = "\x1f"

// Two independently seeded lanes give a 128-bit key. The prefixes are fixed
// so keys survive restarts and can be shared through Redis.
const (
	laneHi = "genrouter.fp.v1.hi" + sep
	laneLo = "genrouter.fp.v1.lo" + sep
)

// Compute returns the 32-character hex fingerprint of the normalized tuple.
// Text fields are trimmed; case is preserved.
func Compute(task core.TaskType, prompt, systemPrompt, modelOverride string, temperature float64, maxTokens int) string {
	payload := encode(
		string(task),
		strings.TrimSpace(prompt),
		strings.TrimSpace(systemPrompt),
		strings.TrimSpace(modelOverride),
		strconv.FormatFloat(temperature, 'f', -1, 64),
		strconv.Itoa(maxTokens),
	)

	hi := xxhash.New()
	_, _ = hi.WriteString(laneHi)
	_, _ = hi.WriteString(payload)

	lo := xxhash.New()
	_, _ = lo.WriteString(laneLo)
	_, _ = lo.WriteString(payload)

	return fmt.Sprintf("%016x%016x", hi.Sum64(), lo.Sum64())
}

// Of fingerprints a validated request. Caller id and cache options do not
// participate.
func Of(req *core.ValidatedRequest) string {
	return Compute(req.TaskType, req.Prompt, req.SystemPrompt, req.ModelOverride, req.Temperature, req.MaxTokens)
}

func encode(fields ...string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
		b.WriteString(sep)
	}
	return b.String()
}
