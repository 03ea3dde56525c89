// Package transport provides the receiver link: a serial UBX transport with
// per-class-id message callbacks, plus an optional GPIO reset-line pulse for
// hats that wire the receiver's RESET_N to a header pin.
package transport

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"agpsd/internal/ubx"
)

type Config struct {
	// Device may be empty to auto-detect the usual USB serial nodes.
	Device string
	// Baud must be a rate supported by the platform implementation.
	Baud int
}

// Serial is a UBX transport over a serial port. Its read loop assembles
// checksum-valid frames from the byte stream and invokes the handler
// registered for each frame's class id, exactly once per frame and
// sequentially.
type Serial struct {
	device string
	baud   int

	mu       sync.Mutex
	handlers map[ubx.ClassID]func(payload []byte)
	cancel   context.CancelFunc

	writeMu sync.Mutex
	port    io.ReadWriteCloser

	wg sync.WaitGroup
}

// Open opens the serial device (auto-detecting when unset) in raw mode.
func Open(cfg Config) (*Serial, error) {
	device := cfg.Device
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			return nil, fmt.Errorf("transport: auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 9600
	}

	f, err := openSerial(device, baud)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s baud=%d: %w", device, baud, err)
	}
	s := newSerial(f)
	s.device = device
	s.baud = baud
	return s, nil
}

func newSerial(port io.ReadWriteCloser) *Serial {
	return &Serial{
		port:     port,
		handlers: make(map[ubx.ClassID]func([]byte)),
	}
}

// RegisterCallback installs fn for received messages with the given class
// id, replacing any previous handler. fn runs on the read-loop goroutine
// with the raw payload bytes.
func (s *Serial) RegisterCallback(class ubx.ClassID, fn func(payload []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[class] = fn
}

// Submit frames payload under the given class id and writes it.
func (s *Serial) Submit(class ubx.ClassID, payload []byte) error {
	return s.SubmitRaw(ubx.Encode(class, payload))
}

// SubmitRaw writes a pre-framed message verbatim.
func (s *Serial) SubmitRaw(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.port == nil {
		return fmt.Errorf("transport: port closed")
	}
	_, err := s.port.Write(frame)
	return err
}

// Start launches the read loop. It returns immediately; the loop stops when
// ctx is cancelled or the port read fails.
func (s *Serial) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("transport: ctx is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	log.Printf("transport: reading device=%s baud=%d", s.device, s.baud)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(childCtx, s.port)
	}()
	return nil
}

func (s *Serial) run(ctx context.Context, r io.Reader) {
	var pending []byte
	chunk := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := r.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			for {
				frame, advance := ubx.ScanStream(pending)
				pending = pending[advance:]
				if frame == nil {
					break
				}
				s.dispatch(frame)
			}
		}
		if err != nil {
			if ctx.Err() == nil && err != io.EOF {
				log.Printf("transport: read stopped: %v", err)
			}
			return
		}
	}
}

func (s *Serial) dispatch(frame []byte) {
	class := ubx.Class(frame)
	s.mu.Lock()
	fn := s.handlers[class]
	s.mu.Unlock()
	if fn == nil {
		return
	}
	fn(ubx.Payload(frame))
}

// Close stops the read loop and closes the port.
func (s *Serial) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.writeMu.Lock()
	port := s.port
	s.port = nil
	s.writeMu.Unlock()
	if port != nil {
		_ = port.Close()
	}
	s.wg.Wait()
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
