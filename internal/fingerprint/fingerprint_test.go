package fingerprint

import (
	"regexp"
	"testing"

	"genrouter/internal/core"
)

var hexKey = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestCompute_Deterministic(t *testing.T) {
	a := Compute(core.TaskCreative, "Write a haiku", "Be poetic", "", 0.7, 2000)
	b := Compute(core.TaskCreative, "Write a haiku", "Be poetic", "", 0.7, 2000)

	if a != b {
		t.Fatalf("fingerprint not stable: %s vs %s", a, b)
	}
	if !hexKey.MatchString(a) {
		t.Errorf("fingerprint %q is not 128-bit hex", a)
	}
}

// Pinned value: a change here means cached entries written by an older
// build would no longer be found.
func TestCompute_StableAcrossBuilds(t *testing.T) {
	const want = "02b539e4ecf668dc9b08b49c069051c0"

	if got := Compute(core.TaskCreative, "Write a haiku", "", "", 0.7, 2000); got != want {
		t.Fatalf("Compute() = %s, want %s", got, want)
	}
	if got := Compute(core.TaskCreative, "  Write a haiku\n", "", "", 0.7, 2000); got != want {
		t.Fatalf("surrounding whitespace should not change the fingerprint, got %s", got)
	}
}

func TestCompute_FieldSensitivity(t *testing.T) {
	base := Compute(core.TaskCreative, "prompt", "system", "model", 0.7, 100)

	variants := map[string]string{
		"task":        Compute(core.TaskAnalysis, "prompt", "system", "model", 0.7, 100),
		"prompt":      Compute(core.TaskCreative, "Prompt", "system", "model", 0.7, 100),
		"system":      Compute(core.TaskCreative, "prompt", "System", "model", 0.7, 100),
		"model":       Compute(core.TaskCreative, "prompt", "system", "other", 0.7, 100),
		"temperature": Compute(core.TaskCreative, "prompt", "system", "model", 0.8, 100),
		"max tokens":  Compute(core.TaskCreative, "prompt", "system", "model", 0.7, 101),
	}
	for name, fp := range variants {
		if fp == base {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}
}

func TestCompute_UnambiguousBoundaries(t *testing.T) {
	a := Compute(core.TaskCreative, "ab", "c", "", 1, 1)
	b := Compute(core.TaskCreative, "a", "bc", "", 1, 1)
	if a == b {
		t.Error("moving text across a field boundary must change the fingerprint")
	}
}

func TestOf_IgnoresCallerAndCacheOptions(t *testing.T) {
	r1 := &core.ValidatedRequest{
		Prompt: "Write a haiku", TaskType: core.TaskCreative, SystemPrompt: "s",
		MaxTokens: 2000, Temperature: 0.7, CallerID: "alice", UseCache: true,
	}
	r2 := *r1
	r2.CallerID = "bob"
	r2.CacheTTL = 42
	r2.ContentType = core.ContentText

	if Of(r1) != Of(&r2) {
		t.Error("caller identity and cache options must not affect the fingerprint")
	}
}
