// Package stream adapts broadcast channels to Server-Sent Events.
//
// A client opens GET ?channel=dm:<id> or ?channel=group:<id>. It receives a
// connected frame, the channel's replay queue, and then every live payload
// as an unnamed data frame. A comment heartbeat keeps idle connections
// alive. The stream ends when the client disconnects, or when the client
// falls a full buffer behind: the server then closes it so the browser
// reconnects and catches up from the replay queue.
package stream
