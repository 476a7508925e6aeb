// Package llm provides text-generation backends for persona replies.
//
// Generator is the single-call contract. Ollama talks to an Ollama server;
// Scripted returns a canned self-introduction. Retrying adds bounded
// exponential backoff for failures IsRetryable classifies as transient
// (network errors, timeouts, 5xx, 429).
package llm
