// Package broadcast provides per-channel publish/subscribe with a bounded
// replay queue, feeding live SSE streams.
//
// A Broadcaster keeps, for every channel id, the set of subscriber callbacks
// and the last N broadcast payloads (N=10 by default). Subscribe replays the
// queue to the new subscriber only. Broadcast always enqueues, even with no
// subscribers, which closes the window between a message being persisted and
// a browser's stream connecting.
//
// Channels holds one Broadcaster per conversation kind so "dm:42" and
// "group:42" never collide.
package broadcast
