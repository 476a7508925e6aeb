// ABOUTME: Canned-reply Generator for running without a model server
// ABOUTME: Every persona answers with a fixed self-introduction

package llm

import (
	"context"
	"fmt"
)

// ScriptedModel is the model name Scripted reports.
const ScriptedModel = "scripted"

// Scripted answers every request with "Hi I'm <persona>".
type Scripted struct{}

// Generate returns the canned reply.
func (Scripted) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := req.PersonaName
	if name == "" {
		name = "a persona"
	}
	return &Response{Text: fmt.Sprintf("Hi I'm %s", name), Model: ScriptedModel}, nil
}
