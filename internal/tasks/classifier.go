// Package tasks maps caller-facing content types onto internal task types.
package tasks

import (
	"genrouter/internal/core"
)

type classification struct {
	task         core.TaskType
	systemPrompt string
}

// table is fixed at compile time; six content types collapse onto four tasks.
var table = map[core.ContentType]classification{
	core.ContentText: {
		task:         core.TaskCreative,
		systemPrompt: "You are a versatile writer. Produce clear, engaging prose that matches the requested tone and length.",
	},
	core.ContentImage: {
		task:         core.TaskCreative,
		systemPrompt: "You are an expert at describing images. Write a detailed, vivid visual description suitable as an image generation prompt.",
	},
	core.ContentCreative: {
		task:         core.TaskCreative,
		systemPrompt: "You are a creative writer. Favor originality and strong imagery while following the request precisely.",
	},
	core.ContentCode: {
		task:         core.TaskCoding,
		systemPrompt: "You are a senior software engineer. Return correct, idiomatic code with brief explanations only where needed.",
	},
	core.ContentEmail: {
		task:         core.TaskOperational,
		systemPrompt: "You are a professional business writer. Draft concise, courteous emails with a clear call to action.",
	},
	core.ContentAnalysis: {
		task:         core.TaskAnalysis,
		systemPrompt: "You are an analyst. Structure your answer, state assumptions, and support conclusions with reasoning.",
	},
}

// contentOrder keeps ContentTypes deterministic for the capability probe.
var contentOrder = []core.ContentType{
	core.ContentText,
	core.ContentImage,
	core.ContentCode,
	core.ContentEmail,
	core.ContentCreative,
	core.ContentAnalysis,
}

// Known reports whether contentType is recognized.
func Known(contentType core.ContentType) bool {
	_, ok := table[contentType]
	return ok
}

// Classify returns the task type and default system prompt for contentType.
// ok is false for unrecognized content types.
func Classify(contentType core.ContentType) (task core.TaskType, defaultSystemPrompt string, ok bool) {
	c, ok := table[contentType]
	if !ok {
		return "", "", false
	}
	return c.task, c.systemPrompt, true
}

// SystemPrompt returns explicit when it is non-empty, otherwise the default
// prompt for contentType.
func SystemPrompt(contentType core.ContentType, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return table[contentType].systemPrompt
}

// ContentTypes returns every recognized content type.
func ContentTypes() []core.ContentType {
	out := make([]core.ContentType, len(contentOrder))
	copy(out, contentOrder)
	return out
}
