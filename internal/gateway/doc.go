// Package gateway orchestrates the solipcord server components.
//
// # Overview
//
// New wires the SQLite store, the process-wide realtime hub (event bus,
// broadcast channels, responder registry), the message service, the
// generation pipeline and the responder manager. Run serves HTTP on a TCP
// address or, when tailscale.enabled is set, on :80 of a tsnet node, then
// attaches a responder to every stored conversation.
//
// # HTTP API
//
//   - GET /health, GET /health/ready
//   - GET /metrics (when metrics.enabled)
//   - GET /api/sse?channel=dm:<id>|group:<id>
//   - /api/personas, /api/direct-messages, /api/group-chats (list, create, get, delete)
//   - POST /api/personas/batch
//   - POST /api/messages, GET /api/messages?channel=&limit=, GET|PATCH|DELETE /api/messages/{id}
//   - GET /api/responders, POST /api/responders/initialize, POST /api/responders/shutdown
//   - GET /api/broadcast/stats
//   - GET /api/generation-logs, GET /api/generation-logs/stats
//
// Messages are rendered as conversation.MessageView in REST responses and
// SSE frames alike.
//
// Errors are JSON objects {"error": "..."}: validation and malformed
// channels are 400, missing entities 404, referenced personas 409.
//
// # Shutdown
//
// Shutdown stops HTTP, detaches responders, waits (bounded by the context)
// for in-flight replies, then closes the tailnet node and the store. A
// shared hub is left open for the next gateway built in the process.
package gateway
