// Package llm talks to the language-model collaborator. The orchestrator
// never interprets model output beyond the structured fields the agents
// extract from it.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited indicates the backend refused the call with a rate limit
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrInvalidResponse indicates the backend answered but the payload was unusable
	ErrInvalidResponse = errors.New("llm: invalid response")

	// ErrUnavailable indicates the backend could not be reached or errored out
	ErrUnavailable = errors.New("llm: unavailable")
)

// Roles identify which pipeline stage is invoking the model. They select the
// model from the catalog and label metrics.
const (
	RolePlanner    = "planner"
	RoleSummarizer = "summarizer"
	RoleWriter     = "writer"
)

// Request is one model invocation.
type Request struct {
	Role        string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the raw text result of an invocation.
type Response struct {
	Text       string
	Model      string
	TokensUsed int
}

// Client is the single capability the pipeline needs from a model backend.
// Selection between backends happens by configuration, not type inspection.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
