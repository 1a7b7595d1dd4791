// Package transport defines the link collaborator the sync engine runs
// over, plus the BLE GATT profile constants a platform implementation
// advertises, and an in-memory loopback pair for tests and demos.
//
// The engine treats the link as message-oriented and fire-and-forget: one
// Send call carries exactly one raw frame, and the receive handler fires
// once per received notification with exactly the raw frame bytes.
package transport

// Transport is the Bluetooth LE link collaborator. Implementations map Send
// to a GATT write without response and deliver inbound notifications to the
// registered receive handler with no added or stripped framing.
type Transport interface {
	// Send writes one raw frame to the peer.
	Send(frame []byte) error
	// SetReceiveHandler registers the callback invoked once per received
	// frame. Implementations may invoke it from their own goroutine;
	// frames from one peer must be delivered in arrival order.
	SetReceiveHandler(handler func(frame []byte))
	// Close tears down the link. Send fails after Close.
	Close() error
}
