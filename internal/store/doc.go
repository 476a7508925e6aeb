// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Persona: a scripted chat participant (name, description, avatar)
//   - DirectConversation: the user and exactly one persona
//   - GroupConversation: a named chat with one to nine personas
//   - Message: one chat message referencing exactly one conversation
//
// Conversations are addressed with a ConversationRef, whose Channel form
// ("dm:<id>" or "group:<id>") is also the broadcast channel id.
//
// # Implementations
//
// SQLiteStore uses modernc.org/sqlite (pure Go). Foreign keys are enforced
// per connection, messages cascade with their conversation, and a CHECK
// constraint keeps exactly one of dm_id/group_id set. MockStore is an
// in-memory equivalent for tests.
//
// # Errors
//
//   - ErrNotFound: the entity does not exist
//   - ErrConflict: duplicate id or a dangling/blocked reference
//   - ErrInvalidChannel: ParseChannel received a malformed channel id
package store
