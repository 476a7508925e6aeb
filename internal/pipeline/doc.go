// Package pipeline turns a conversation into one persona reply.
//
// ContextBuilder loads the persona, the participants and the recent history.
// Render produces a system prompt, a user prompt carrying the history, and a
// prefill that opens the persona's reasoning block. The generator's output is
// passed through Sanitize so only the visible reply is posted.
//
// With WithGenerationLog, every Respond call writes one store.GenerationLog
// row: prompts, raw response, outcome, token counts and the posted message id.
package pipeline
