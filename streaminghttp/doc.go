// Package streaminghttp implements the MCP streamable HTTP transport. It
// mounts as a standard net/http handler on a single path (DefaultPath).
//
// # Session Lifecycle
//
// A POST without an Mcp-Session-Id header must carry an initialize request.
// The handler negotiates the protocol revision, creates a session and returns
// its id in the Mcp-Session-Id response header. Every later message names the
// session in that header:
//
//   - POST request: answered synchronously with a JSON-RPC response body
//   - POST notification or response: 202 Accepted, no body
//   - GET: attaches the push channel (text/event-stream) carrying progress
//     notifications; one stream per session
//   - DELETE: tears the session down (204)
//
// Unknown or removed ids get 404 and never create a session. Sessions that see
// no traffic for the idle TTL are reaped by Run.
//
// # Error Handling
//
// Transport-level errors map to HTTP status codes with a small JSON body of
// the form {"error":{"code":<status>,"message":"..."}}. MCP-level errors are
// serialized as JSON-RPC error responses and tool failures travel inside the
// call result envelope.
//
// Example (mount in net/http):
//
//	h := streaminghttp.New(eng, streaminghttp.WithLogger(log))
//	mux := http.NewServeMux()
//	mux.Handle(streaminghttp.DefaultPath, h)
//	go h.Run(ctx) // idle reaper
package streaminghttp
