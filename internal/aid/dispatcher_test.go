package aid

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"agpsd/internal/ubx"
)

func anoFrame(fill byte) []byte {
	body := make([]byte, 76)
	for i := range body {
		body[i] = fill
	}
	return ubx.Encode(ubx.ClassMgaAno, body)
}

func ackPayload(ackType, infoCode byte) []byte {
	return []byte{ackType, 0x00, infoCode, 0x20, 0, 0, 0, 0}
}

func alwaysReady() bool { return true }

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func waitRaw(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a frame submission")
		return nil
	}
}

func waitDone(t *testing.T, ch chan []AckError) []AckError {
	t.Helper()
	select {
	case errs := <-ch:
		return errs
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for completion")
		return nil
	}
}

func TestDispatcher_FIFOSingleInFlight(t *testing.T) {
	tr := newFakeTransport()
	tr.rawCh = make(chan []byte) // unbuffered: drain blocks until the test accepts the frame

	d := NewDispatcher(tr, alwaysReady)
	tr.RegisterCallback(ubx.ClassMgaAck, d.HandleAck)

	want := [][]byte{anoFrame(1), anoFrame(2), anoFrame(3)}
	var buf []byte
	for _, f := range want {
		buf = append(buf, f...)
	}
	if !d.Enqueue(buf) {
		t.Fatalf("Enqueue() = false, want true")
	}

	done := make(chan []AckError, 1)
	d.Start(testCtx(t), func(errs []AckError) { done <- errs })

	for i, wf := range want {
		got := waitRaw(t, tr.rawCh)
		if !bytes.Equal(got, wf) {
			t.Fatalf("frame %d out of order", i)
		}
		// Nothing else may be in flight before this frame's ack runs.
		select {
		case extra := <-tr.rawCh:
			t.Fatalf("frame submitted before ack of frame %d: % X", i, extra)
		case <-time.After(20 * time.Millisecond):
		}
		d.HandleAck(ackPayload(ubx.MgaAckAccepted, ubx.InfoAccepted))
	}

	if errs := waitDone(t, done); errs != nil {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestDispatcher_CompletionOnceEmptyQueue(t *testing.T) {
	tr := newFakeTransport()
	d := NewDispatcher(tr, alwaysReady)

	if d.Enqueue(nil) {
		t.Fatalf("Enqueue(nil) = true, want false")
	}

	var calls atomic.Int32
	done := make(chan []AckError, 1)
	d.Start(testCtx(t), func(errs []AckError) {
		calls.Add(1)
		done <- errs
	})

	if errs := waitDone(t, done); errs != nil {
		t.Fatalf("expected nil errors for empty queue, got %v", errs)
	}
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("completion fired %d times, want 1", n)
	}
}

func TestDispatcher_CollectsAckErrors(t *testing.T) {
	tr := newFakeTransport()
	tr.rawCh = make(chan []byte)
	d := NewDispatcher(tr, alwaysReady)
	tr.RegisterCallback(ubx.ClassMgaAck, d.HandleAck)

	var buf []byte
	for _, f := range [][]byte{anoFrame(1), anoFrame(2), anoFrame(3)} {
		buf = append(buf, f...)
	}
	d.Enqueue(buf)

	done := make(chan []AckError, 1)
	d.Start(testCtx(t), func(errs []AckError) { done <- errs })

	acks := [][]byte{
		ackPayload(ubx.MgaAckNotUsed, ubx.InfoNoTime),
		ackPayload(ubx.MgaAckAccepted, ubx.InfoAccepted),
		ackPayload(ubx.MgaAckNotUsed, 0x7F), // outside the documented codes
	}
	for i := 0; i < 3; i++ {
		waitRaw(t, tr.rawCh)
		d.HandleAck(acks[i])
	}

	errs := waitDone(t, done)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if errs[0].InfoCode != ubx.InfoNoTime || !strings.Contains(errs[0].Description, "time") {
		t.Fatalf("first error=%+v", errs[0])
	}
	if errs[1].Description != "undefined error" {
		t.Fatalf("unknown infoCode description=%q want \"undefined error\"", errs[1].Description)
	}

	// The error list is cleared once delivered.
	d.Enqueue(anoFrame(4))
	done2 := make(chan []AckError, 1)
	d.Start(testCtx(t), func(errs []AckError) { done2 <- errs })
	waitRaw(t, tr.rawCh)
	d.HandleAck(ackPayload(ubx.MgaAckAccepted, ubx.InfoAccepted))
	if errs := waitDone(t, done2); errs != nil {
		t.Fatalf("second cycle inherited errors: %v", errs)
	}
}

func TestDispatcher_UndecodableAckCollected(t *testing.T) {
	tr := newFakeTransport()
	tr.rawCh = make(chan []byte)
	d := NewDispatcher(tr, alwaysReady)

	d.Enqueue(anoFrame(9))
	done := make(chan []AckError, 1)
	d.Start(testCtx(t), func(errs []AckError) { done <- errs })

	waitRaw(t, tr.rawCh)
	d.HandleAck([]byte{0x01}) // too short to decode

	errs := waitDone(t, done)
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if !strings.Contains(errs[0].Description, "too short") {
		t.Fatalf("description=%q", errs[0].Description)
	}
}

func TestDispatcher_WaitsForReadiness(t *testing.T) {
	tr := newFakeTransport()
	tr.rawCh = make(chan []byte, 1)

	var ready atomic.Bool
	d := NewDispatcher(tr, ready.Load)
	d.retryDelay = 5 * time.Millisecond

	d.Enqueue(anoFrame(1))
	done := make(chan []AckError, 1)
	d.Start(testCtx(t), func(errs []AckError) { done <- errs })

	select {
	case f := <-tr.rawCh:
		t.Fatalf("frame submitted before readiness: % X", f)
	case <-time.After(50 * time.Millisecond):
	}

	ready.Store(true)
	waitRaw(t, tr.rawCh)
	d.HandleAck(ackPayload(ubx.MgaAckAccepted, ubx.InfoAccepted))
	if errs := waitDone(t, done); errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestDispatcher_EagerAcksStayOrdered(t *testing.T) {
	// Even if ack callbacks pile up faster than the drain loop consumes
	// them, frames still go out strictly one ack apart and in FIFO order.
	tr := newFakeTransport()
	tr.rawCh = make(chan []byte)
	d := NewDispatcher(tr, alwaysReady)

	want := [][]byte{anoFrame(1), anoFrame(2)}
	var buf []byte
	for _, f := range want {
		buf = append(buf, f...)
	}
	d.Enqueue(buf)

	done := make(chan []AckError, 1)
	d.Start(testCtx(t), func(errs []AckError) { done <- errs })

	first := waitRaw(t, tr.rawCh)
	if !bytes.Equal(first, want[0]) {
		t.Fatalf("first frame out of order")
	}
	// Two acks arrive back to back.
	d.HandleAck(ackPayload(ubx.MgaAckAccepted, ubx.InfoAccepted))
	d.HandleAck(ackPayload(ubx.MgaAckNotUsed, ubx.InfoNotReady))

	second := waitRaw(t, tr.rawCh)
	if !bytes.Equal(second, want[1]) {
		t.Fatalf("second frame out of order")
	}

	errs := waitDone(t, done)
	if len(errs) != 1 || errs[0].InfoCode != ubx.InfoNotReady {
		t.Fatalf("errors=%v want one not-ready", errs)
	}
}
