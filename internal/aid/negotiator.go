package aid

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"agpsd/internal/ubx"
)

// ErrVersionNotSupported is the fatal negotiation outcome for receivers
// that report no protocol version or one outside the supported table.
var ErrVersionNotSupported = errors.New("aid: protocol version not supported")

// MonVerInfo is the most recent decoded MON-VER message. Overwritten on
// every version message; Err carries the decode error text when decoding
// failed.
type MonVerInfo struct {
	ProtVer string
	Raw     ubx.MonVer
	Err     string
}

// navX5VariantByProtVer maps documented protocol versions to the CFG-NAVX5
// message version understood by that firmware. Exact match only; anything
// else is a negotiation failure, not a guess.
var navX5VariantByProtVer = map[string]int{
	"15.00": 0,
	"15.01": 0,
	"16.00": 0,
	"17.00": 0,

	"18.00": 2,
	"19.00": 2,
	"20.00": 2,
	"20.01": 2,
	"20.10": 2,
	"20.20": 2,
	"20.30": 2,
	"23.01": 2,

	"19.10": 3,
	"19.20": 3,
}

const navX5Mask1AckAid = 0x0400 // mask1 bit selecting the ackAiding field

// buildNavX5 builds the CFG-NAVX5 payload for the given message variant:
// 40 bytes for variants 0 and 2, 44 for variant 3. Only the ackAiding
// selection bit and the ackAiding enable byte are set; zero elsewhere means
// "leave unchanged" for unselected fields.
func buildNavX5(variant int) []byte {
	size := 40
	if variant == 3 {
		size = 44
	}
	p := make([]byte, size)
	binary.LittleEndian.PutUint16(p[0:2], uint16(variant))
	binary.LittleEndian.PutUint16(p[2:4], navX5Mask1AckAid)
	p[17] = 1 // ackAiding: receiver acks every assistance message
	return p
}

// Negotiator establishes readiness for assistance feeding. It consumes
// MON-VER messages (AwaitingVersion -> Ready): the first decodable version
// message selects the CFG-NAVX5 variant for the reported protocol version
// and enables aiding acknowledgments on the receiver. Later version
// messages only refresh the cached MonVerInfo.
type Negotiator struct {
	tr Transport

	ready atomic.Bool

	mu   sync.Mutex
	info MonVerInfo

	once    sync.Once
	outcome chan error
}

func NewNegotiator(tr Transport) *Negotiator {
	return &Negotiator{tr: tr, outcome: make(chan error, 1)}
}

// Ready reports whether negotiation completed successfully. Monotonic.
func (n *Negotiator) Ready() bool { return n.ready.Load() }

// Info returns the most recently cached version message.
func (n *Negotiator) Info() MonVerInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.info
}

// HandleVersion is the transport callback for MON-VER payloads.
func (n *Negotiator) HandleVersion(payload []byte) {
	v, err := ubx.ParseMonVer(payload)
	info := MonVerInfo{ProtVer: v.ProtVer, Raw: v}
	if err != nil {
		info.Err = err.Error()
	}
	n.mu.Lock()
	n.info = info
	n.mu.Unlock()

	n.once.Do(func() {
		n.outcome <- n.negotiate(v, err)
	})
}

func (n *Negotiator) negotiate(v ubx.MonVer, decodeErr error) error {
	if decodeErr != nil {
		return fmt.Errorf("aid: decode MON-VER: %w", decodeErr)
	}
	if v.ProtVer == "" {
		return fmt.Errorf("%w: receiver reported no PROTVER", ErrVersionNotSupported)
	}
	variant, ok := navX5VariantByProtVer[v.ProtVer]
	if !ok {
		return fmt.Errorf("%w: %q", ErrVersionNotSupported, v.ProtVer)
	}
	if err := n.tr.Submit(ubx.ClassCfgNavX5, buildNavX5(variant)); err != nil {
		return fmt.Errorf("aid: enable aiding acks: %w", err)
	}
	log.Printf("aid: receiver ready protver=%s sw=%q navx5=%d", v.ProtVer, v.SWVersion, variant)
	n.ready.Store(true)
	return nil
}

// Negotiate polls the receiver version and blocks until the first version
// message decides the outcome. A returned error is fatal for
// initialization; the caller must not proceed with assistance feeding.
func (n *Negotiator) Negotiate(ctx context.Context) error {
	if err := n.tr.Submit(ubx.ClassMonVer, nil); err != nil {
		return fmt.Errorf("aid: poll MON-VER: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-n.outcome:
		return err
	}
}
