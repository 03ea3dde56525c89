package aid

import (
	"context"
	"errors"
	"testing"
	"time"

	"agpsd/internal/ubx"
)

func monVerPayload(protVerExt string) []byte {
	exts := [][]byte{}
	if protVerExt != "" {
		e := make([]byte, 30)
		copy(e, protVerExt)
		exts = append(exts, e)
	}
	p := make([]byte, 40)
	copy(p, "EXT CORE 3.01 (test)")
	copy(p[30:], "00080000")
	for _, e := range exts {
		p = append(p, e...)
	}
	return p
}

func negotiateWith(t *testing.T, tr *fakeTransport, protVerExt string) (*Negotiator, error) {
	t.Helper()
	n := NewNegotiator(tr)
	tr.RegisterCallback(ubx.ClassMonVer, n.HandleVersion)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- n.Negotiate(ctx) }()

	// Let the poll go out, then answer it.
	deadline := time.Now().Add(time.Second)
	for len(tr.submitted(ubx.ClassMonVer)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("MON-VER poll never submitted")
		}
		time.Sleep(time.Millisecond)
	}
	if err := tr.deliver(ubx.ClassMonVer, monVerPayload(protVerExt)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	return n, <-done
}

func TestNegotiate_Variant3(t *testing.T) {
	tr := newFakeTransport()
	if _, err := negotiateWith(t, tr, "PROTVER=19.20"); err != nil {
		t.Fatalf("Negotiate() error: %v", err)
	}

	cfgs := tr.submitted(ubx.ClassCfgNavX5)
	if len(cfgs) != 1 {
		t.Fatalf("CFG-NAVX5 submitted %d times, want 1", len(cfgs))
	}
	p := cfgs[0].payload
	if len(p) != 44 {
		t.Fatalf("CFG-NAVX5 payload=%d bytes, want 44", len(p))
	}
	if p[0] != 3 || p[1] != 0 {
		t.Fatalf("version field=% X want 03 00", p[:2])
	}
	if p[2] != 0x00 || p[3] != 0x04 {
		t.Fatalf("mask1=% X want 00 04 (ackAid bit)", p[2:4])
	}
	if p[17] != 1 {
		t.Fatalf("ackAiding byte=%d want 1", p[17])
	}
}

func TestNegotiate_Variant0(t *testing.T) {
	tr := newFakeTransport()
	if _, err := negotiateWith(t, tr, "PROTVER=17.00"); err != nil {
		t.Fatalf("Negotiate() error: %v", err)
	}
	cfgs := tr.submitted(ubx.ClassCfgNavX5)
	if len(cfgs) != 1 || len(cfgs[0].payload) != 40 {
		t.Fatalf("expected one 40-byte CFG-NAVX5, got %+v", cfgs)
	}
	if cfgs[0].payload[0] != 0 {
		t.Fatalf("version field=%d want 0", cfgs[0].payload[0])
	}
}

func TestNegotiate_UnknownVersionFatal(t *testing.T) {
	tr := newFakeTransport()
	_, err := negotiateWith(t, tr, "PROTVER=21.00")
	if !errors.Is(err, ErrVersionNotSupported) {
		t.Fatalf("expected ErrVersionNotSupported, got %v", err)
	}
	if len(tr.submitted(ubx.ClassCfgNavX5)) != 0 {
		t.Fatalf("CFG-NAVX5 must not be sent on failed negotiation")
	}
}

func TestNegotiate_MissingProtVerFatal(t *testing.T) {
	tr := newFakeTransport()
	_, err := negotiateWith(t, tr, "")
	if !errors.Is(err, ErrVersionNotSupported) {
		t.Fatalf("expected ErrVersionNotSupported, got %v", err)
	}
}

func TestNegotiate_DecodeErrorFatal(t *testing.T) {
	tr := newFakeTransport()
	n := NewNegotiator(tr)
	tr.RegisterCallback(ubx.ClassMonVer, n.HandleVersion)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Negotiate(ctx) }()

	deadline := time.Now().Add(time.Second)
	for len(tr.submitted(ubx.ClassMonVer)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("MON-VER poll never submitted")
		}
		time.Sleep(time.Millisecond)
	}
	// Too short to be a MON-VER payload.
	if err := tr.deliver(ubx.ClassMonVer, []byte{1, 2, 3}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := <-done; err == nil {
		t.Fatalf("expected fatal decode error")
	}
	if n.Ready() {
		t.Fatalf("must not be ready after decode failure")
	}
}

func TestHandleVersion_RefreshAfterReady(t *testing.T) {
	tr := newFakeTransport()
	n, err := negotiateWith(t, tr, "PROTVER=18.00")
	if err != nil {
		t.Fatalf("Negotiate() error: %v", err)
	}
	if !n.Ready() {
		t.Fatalf("expected ready")
	}

	// A later version message refreshes the cache without re-negotiating.
	if err := tr.deliver(ubx.ClassMonVer, monVerPayload("PROTVER=19.20")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := n.Info().ProtVer; got != "19.20" {
		t.Fatalf("cached protver=%q want 19.20", got)
	}
	if got := len(tr.submitted(ubx.ClassCfgNavX5)); got != 1 {
		t.Fatalf("CFG-NAVX5 submitted %d times, want 1", got)
	}
}
