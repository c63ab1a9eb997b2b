package device

// Connection is either Disconnected or Connected(handle). It is a value:
// whoever holds it owns the handle, and disconnecting means calling Close
// on the handle and dropping the Connection.
type Connection[H any] struct {
	handle    H
	connected bool
}

// Connected wraps an open handle.
func Connected[H any](h H) Connection[H] {
	return Connection[H]{handle: h, connected: true}
}

// Disconnected is the zero Connection.
func Disconnected[H any]() Connection[H] {
	return Connection[H]{}
}

// Handle returns the handle and whether the connection is open.
func (c Connection[H]) Handle() (H, bool) {
	return c.handle, c.connected
}

// IsConnected reports whether a handle is held.
func (c Connection[H]) IsConnected() bool {
	return c.connected
}
