package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so the output can be
// aggregated and queried by user, chat, or request.
const (
	// Request identity
	KeyUserID    = "user_id"    // Telegram user id of the requester
	KeyChatID    = "chat_id"    // Destination chat id
	KeyRequestID = "request_id" // Unique id assigned per transfer request

	// Link and target
	KeyLink      = "link"       // Raw share link as received
	KeyScope     = "scope"      // Resolved channel/chat scope
	KeyMessageID = "message_id" // Message id within the scope
	KeyMode      = "mode"       // Access mode: public, private, story
	KeyVariant   = "variant"    // Link variant: plain, comment, thread, single

	// Pipeline
	KeyState    = "state"    // Pipeline state at the time of logging
	KeyStep     = "step"     // Login handshake step
	KeyBytes    = "bytes"    // Bytes transferred
	KeySize     = "size"     // Total payload size
	KeyPath     = "path"     // Temporary file path
	KeyDuration = "duration" // Elapsed time in milliseconds
	KeyOutcome  = "outcome"  // Terminal outcome: done, failed, cancelled

	// Sessions
	KeySessions = "sessions" // Number of cached or open sessions
	KeyIdle     = "idle"     // Idle time before eviction

	// Errors
	KeyError = "error"
)
