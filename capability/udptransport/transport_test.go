package udptransport

import (
	"context"
	"testing"
	"time"
)

func TestDialReuseSameHandle(t *testing.T) {
	tr, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer tr.Close()

	h1, err := tr.Dial(context.Background(), "127.0.0.1:9")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	h2, err := tr.Dial(context.Background(), "127.0.0.1:9")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if h1 != h2 {
		t.Error("Dial with the same hint should return the cached handle")
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen a: %v", err)
	}
	defer a.Close()

	b, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen b: %v", err)
	}
	defer b.Close()

	handle, err := a.Dial(context.Background(), b.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	payload := []byte("hello over udp")
	if err := handle.Send(context.Background(), payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hint, frame, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(frame) != string(payload) {
		t.Errorf("frame = %q, want %q", frame, payload)
	}
	if hint == "" {
		t.Error("hint should not be empty")
	}
}

func TestReceiveRespectsContextCancellation(t *testing.T) {
	tr, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := tr.Receive(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tr, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDialAfterCloseFails(t *testing.T) {
	tr, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	tr.Close()

	if _, err := tr.Dial(context.Background(), "127.0.0.1:9"); err == nil {
		t.Error("expected error dialing a closed transport")
	}
}
