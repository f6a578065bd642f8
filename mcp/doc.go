// Package mcp contains the Model Context Protocol data types and constants
// spoken by the gateway. It mirrors the wire representation while keeping the
// surface Go-friendly (exported structs with json tags, string constants for
// method names and enumerations).
//
// The package is free of transport logic: the streamable HTTP and legacy SSE
// transports import these types but implement their own framing and session
// handling. The mcpservice dispatcher builds CallToolResult envelopes and the
// engine serializes them into JSON-RPC responses.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Envelopes
//
// Every tool call produces a CallToolResult carrying a single text block. A
// failed call has the same shape with IsError set:
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "post not found"}},
//	    IsError: true,
//	}
//
// # Compatibility
//
// LatestProtocolVersion is the newest protocol revision the gateway targets.
// SupportedProtocolVersions lists every revision accepted at initialize.
package mcp
