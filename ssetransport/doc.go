// Package ssetransport implements the legacy MCP HTTP+SSE transport.
//
// A client opens GET /sse and receives an "endpoint" event whose data is the
// URL to POST messages to (/messages?sessionId=<id>). Each POST is answered
// with 202 Accepted as soon as the message is queued; the JSON-RPC response
// arrives later on the stream as a "message" event.
//
// # Ordering
//
// Every accepted request reserves the next position in the session's
// sessions.Outbox before the 202 is written. Calls run concurrently, but the
// stream emits their replies strictly in reservation order, so a fast call
// never overtakes a slow one submitted earlier. Notifications take no
// position and produce no event.
//
// # Teardown
//
// The session lives exactly as long as its stream. When the client
// disconnects or Shutdown runs, the session is removed, its in-flight calls
// are cancelled and any result that completes afterwards is dropped.
package ssetransport
