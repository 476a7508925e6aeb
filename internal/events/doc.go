// Package events provides the in-process message lifecycle event bus.
//
// Three payload variants exist (Created, Updated, Deleted). Each carries a
// Conversation that is either a DMContext (with a snapshot of the direct
// conversation) or a GroupContext.
//
// Every emission is delivered twice over: once to listeners of the general
// name (message:created) and then to listeners of the kind-specific name
// (dm:message:created or group:message:created). Delivery is synchronous and
// ordered by registration. Listener failures are recovered and logged.
//
// OnConversationCreated is the hook used by conversation responders: it
// filters on one conversation and logs, rather than returns, listener errors.
package events
