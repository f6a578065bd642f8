// Package sessions tracks the logical sessions of connected MCP clients.
//
// A Store holds the live sessions of one transport family. Each Session binds
// a gateway-generated id to a transport-specific handle H that the session
// owns exclusively:
//
//	store := sessions.NewStore[*handle](sessions.KindSSE,
//	    sessions.WithRelease(func(h *handle) { h.outbox.Close() }),
//	)
//	sess, err := store.Create(&handle{outbox: sessions.NewOutbox(64)})
//
// Removal is idempotent and runs the release hook exactly once, so transports
// may tear a session down from any code path (client DELETE, stream
// disconnect, idle reaping, shutdown) without coordination.
//
// # Ordered delivery
//
// Outbox is the per-session mailbox used when replies travel over a stream
// rather than on the request that caused them. Producers Reserve a slot in
// submission order, do their work concurrently, then Fill the slot. The
// single consumer attached with Drain emits frames in reservation order, so
// a slow call delays later replies but never reorders them.
package sessions
