// Package dedupe keeps persona responders from answering the same message
// twice. Guard.Claim is atomic: of several concurrent callers for one
// (message, persona) pair, exactly one wins until the claim expires.
package dedupe
