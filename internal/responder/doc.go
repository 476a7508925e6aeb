// Package responder keeps exactly one persona responder attached to every
// conversation.
//
// The Registry is keyed by channel id and is the only record of attachment,
// so attaching twice never double-subscribes. The Manager reacts to
// user-authored messages only: a DM message triggers one reply from the DM's
// persona and a group message triggers one concurrent reply from every other
// participant. Each reply runs on its own goroutine under a timeout, is
// claimed in a dedupe.Guard so a redelivered event cannot reply twice, and
// fails in isolation.
package responder
