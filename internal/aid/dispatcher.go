package aid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"agpsd/internal/ubx"
)

// AckError records one rejected (or undecodable) assistance message
// acknowledgment. Accumulated by the Dispatcher and delivered in batch to
// the completion handler.
type AckError struct {
	InfoCode    byte
	Raw         ubx.MgaAck
	Description string
}

func (e AckError) Error() string {
	return fmt.Sprintf("assist message rejected (infoCode=%d): %s", e.InfoCode, e.Description)
}

// ackDescriptions is the closed set of documented MGA-ACK info codes.
// Unknown codes are logged and reported as "undefined error" rather than
// invented.
var ackDescriptions = map[byte]string{
	ubx.InfoNoTime:          "receiver has no time reference",
	ubx.InfoVersionNotKnown: "message version not supported by receiver",
	ubx.InfoSizeMismatch:    "message size mismatch",
	ubx.InfoNotStored:       "message could not be stored",
	ubx.InfoNotReady:        "receiver not ready to use the message",
	ubx.InfoTypeUnknown:     "message type unknown",
}

const undefinedAckError = "undefined error"

// Dispatcher drains a FIFO queue of assistance frames to the transport,
// one frame in flight at a time. Transmission is gated on the negotiator's
// readiness; each submitted frame waits for its MGA-ACK event before the
// next is sent. When the queue empties, the completion handler runs exactly
// once with the accumulated acknowledgment errors (nil when all were
// accepted).
type Dispatcher struct {
	tr         Transport
	ready      func() bool
	retryDelay time.Duration

	mu    sync.Mutex
	queue [][]byte
	errs  []AckError

	acks chan []byte
}

// NewDispatcher builds a dispatcher gated on ready (typically
// Negotiator.Ready). Register HandleAck with the transport for
// ubx.ClassMgaAck before starting.
func NewDispatcher(tr Transport, ready func() bool) *Dispatcher {
	return &Dispatcher{
		tr:         tr,
		ready:      ready,
		retryDelay: 500 * time.Millisecond,
		acks:       make(chan []byte, 64),
	}
}

// Enqueue splits buf into frames and appends them to the queue in order.
// It reports whether the queue is non-empty afterwards; an empty or nil buf
// is a no-op returning false. Truncated trailing input is logged and the
// frames split so far are enqueued.
func (d *Dispatcher) Enqueue(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	frames, err := ubx.Split(buf)
	if err != nil && !errors.Is(err, ubx.ErrFraming) {
		log.Printf("aid: enqueue split failed: %v", err)
	} else if err != nil {
		log.Printf("aid: enqueue input truncated, keeping %d frames: %v", len(frames), err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, frames...)
	return len(d.queue) > 0
}

// HandleAck is the transport callback for MGA-ACK payloads. It hands the
// payload to the drain loop; an ack arriving with nothing in flight is
// dropped with a log line.
func (d *Dispatcher) HandleAck(payload []byte) {
	p := make([]byte, len(payload))
	copy(p, payload)
	select {
	case d.acks <- p:
	default:
		log.Printf("aid: dropping unexpected MGA-ACK (nothing in flight)")
	}
}

// Start runs one drain cycle in its own goroutine and returns immediately.
// onDone fires exactly once per Start call, when the queue has drained (it
// never fires on ctx cancellation). The error slice handed to onDone is nil
// when every message was accepted; the internal error list is cleared after
// delivery.
func (d *Dispatcher) Start(ctx context.Context, onDone func(errs []AckError)) {
	go d.drain(ctx, onDone)
}

func (d *Dispatcher) drain(ctx context.Context, onDone func(errs []AckError)) {
	// Discard acks left over from a previous cycle so they cannot be
	// matched against this cycle's frames.
	for {
		select {
		case <-d.acks:
			continue
		default:
		}
		break
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if !d.ready() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.retryDelay):
			}
			continue
		}

		frame := d.popFront()
		if frame == nil {
			onDone(d.takeErrors())
			return
		}

		if err := d.tr.SubmitRaw(frame); err != nil {
			// No ack will come for a frame that never hit the wire.
			d.appendError(AckError{Description: fmt.Sprintf("submit failed: %v", err)})
			continue
		}

		select {
		case <-ctx.Done():
			return
		case payload := <-d.acks:
			d.applyAck(payload)
		}
	}
}

func (d *Dispatcher) applyAck(payload []byte) {
	ack, err := ubx.ParseMgaAck(payload)
	if err != nil {
		d.appendError(AckError{Description: err.Error()})
		return
	}
	if ack.Accepted() {
		return
	}
	desc, ok := ackDescriptions[ack.InfoCode]
	if !ok {
		log.Printf("aid: unknown MGA-ACK infoCode=%d", ack.InfoCode)
		desc = undefinedAckError
	}
	d.appendError(AckError{InfoCode: ack.InfoCode, Raw: ack, Description: desc})
}

func (d *Dispatcher) popFront() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	frame := d.queue[0]
	d.queue = d.queue[1:]
	return frame
}

func (d *Dispatcher) appendError(e AckError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, e)
}

func (d *Dispatcher) takeErrors() []AckError {
	d.mu.Lock()
	defer d.mu.Unlock()
	errs := d.errs
	d.errs = nil
	return errs
}
