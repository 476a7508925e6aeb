// Package conversation is the write path for personas, conversations and
// messages.
//
// Every message write follows the same order: validate, persist, emit the
// lifecycle event on the bus, then broadcast to live channel subscribers.
// A request that fails validation or persistence produces no event and no
// broadcast. Broadcast frames and REST responses share one JSON shape,
// MessageView. Conversation creation and deletion notify a LifecycleNotifier
// so that persona responders follow the set of conversations.
package conversation
