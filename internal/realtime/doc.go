// Package realtime holds the process-wide event bus, broadcast channels and
// responder registry. Components that must be unique per process, such as
// the responder registry, are reached through Shared; tests build isolated
// hubs with New.
package realtime
