package aid

import "agpsd/internal/ubx"

// Transport is the receiver link this package writes to and receives
// acknowledgments from. Implementations must invoke a registered handler
// exactly once per received message of that class id, with the raw payload
// bytes, and must deliver callbacks sequentially.
type Transport interface {
	// RegisterCallback installs fn for messages of the given class id.
	RegisterCallback(class ubx.ClassID, fn func(payload []byte))
	// Submit frames payload for the given class id and writes it.
	Submit(class ubx.ClassID, payload []byte) error
	// SubmitRaw writes a pre-framed message verbatim.
	SubmitRaw(frame []byte) error
}
