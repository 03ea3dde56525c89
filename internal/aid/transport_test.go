package aid

import (
	"fmt"
	"sync"

	"agpsd/internal/ubx"
)

// fakeTransport records writes and lets tests deliver callbacks by hand.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[ubx.ClassID]func([]byte)
	submits  []fakeSubmit
	raw      [][]byte

	// rawCh, when set, receives every SubmitRaw frame so tests can
	// synchronize with the drain loop.
	rawCh chan []byte
}

type fakeSubmit struct {
	class   ubx.ClassID
	payload []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[ubx.ClassID]func([]byte))}
}

func (f *fakeTransport) RegisterCallback(class ubx.ClassID, fn func(payload []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[class] = fn
}

func (f *fakeTransport) Submit(class ubx.ClassID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := append([]byte(nil), payload...)
	f.submits = append(f.submits, fakeSubmit{class: class, payload: p})
	return nil
}

func (f *fakeTransport) SubmitRaw(frame []byte) error {
	f.mu.Lock()
	fr := append([]byte(nil), frame...)
	f.raw = append(f.raw, fr)
	ch := f.rawCh
	f.mu.Unlock()

	if ch != nil {
		ch <- fr
	}
	return nil
}

func (f *fakeTransport) deliver(class ubx.ClassID, payload []byte) error {
	f.mu.Lock()
	fn := f.handlers[class]
	f.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("no handler for %s", class)
	}
	fn(payload)
	return nil
}

func (f *fakeTransport) submitted(class ubx.ClassID) []fakeSubmit {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeSubmit
	for _, s := range f.submits {
		if s.class == class {
			out = append(out, s)
		}
	}
	return out
}
