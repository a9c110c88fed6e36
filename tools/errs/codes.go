package errs

// Error codes are grouped by concern: 104xx auth, 110xx delivery,
// 120xx client reconnection.
const (
	CodeUnauthorized       = 10401
	CodeInvalidMessage     = 11001
	CodeConnectionClosed   = 11002
	CodeSuperseded         = 11003
	CodeReconnectExhausted = 12001
)

var (
	// ErrUnauthorized rejects a connection upgrade with no verified identity.
	ErrUnauthorized = NewCodeError(CodeUnauthorized, "unauthorized")

	// ErrInvalidMessage marks empty or oversized content; such a message is
	// neither persisted nor delivered.
	ErrInvalidMessage = NewCodeError(CodeInvalidMessage, "invalid message")

	// ErrConnectionClosed marks a write to a connection that is already dead.
	ErrConnectionClosed = NewCodeError(CodeConnectionClosed, "connection closed")

	// ErrSuperseded marks a connection force-closed because a newer one
	// registered for the same user.
	ErrSuperseded = NewCodeError(CodeSuperseded, "superseded by newer connection")

	// ErrReconnectExhausted is the client-side terminal state after the
	// bounded retry budget is spent.
	ErrReconnectExhausted = NewCodeError(CodeReconnectExhausted, "reconnect attempts exhausted")
)
