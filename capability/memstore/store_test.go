package memstore

import (
	"context"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEventLogAppendOrder(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	var channel [32]byte
	channel[0] = 0xAB

	for i, record := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		if err := s.AppendEventLog(ctx, channel, record); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := s.ReadEventLog(ctx, channel)
	if err != nil {
		t.Fatalf("ReadEventLog: %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(records) != len(want) {
		t.Fatalf("len(records) = %d, want %d", len(records), len(want))
	}
	for i, w := range want {
		if string(records[i]) != w {
			t.Errorf("records[%d] = %q, want %q", i, records[i], w)
		}
	}
}

func TestEventLogResumesSequenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	var channel [32]byte
	channel[1] = 0xCD

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.AppendEventLog(ctx, channel, []byte("first")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if err := s2.AppendEventLog(ctx, channel, []byte("second")); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}

	records, err := s2.ReadEventLog(ctx, channel)
	if err != nil {
		t.Fatalf("ReadEventLog: %v", err)
	}
	if len(records) != 2 || string(records[0]) != "first" || string(records[1]) != "second" {
		t.Fatalf("records = %q, want [first second]", records)
	}
}

func TestIndexRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if _, ok, err := s.GetIndex(ctx, []byte("missing")); err != nil || ok {
		t.Fatalf("GetIndex(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := s.PutIndex(ctx, []byte("key"), []byte("value")); err != nil {
		t.Fatalf("PutIndex: %v", err)
	}
	value, ok, err := s.GetIndex(ctx, []byte("key"))
	if err != nil || !ok || string(value) != "value" {
		t.Fatalf("GetIndex(key) = (%q, %v, %v), want (value, true, nil)", value, ok, err)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	var id [32]byte
	id[0] = 0x01

	if _, ok, err := s.GetBlob(ctx, id); err != nil || ok {
		t.Fatalf("GetBlob(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := s.PutBlob(ctx, id, []byte("payload")); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	data, ok, err := s.GetBlob(ctx, id)
	if err != nil || !ok || string(data) != "payload" {
		t.Fatalf("GetBlob(id) = (%q, %v, %v), want (payload, true, nil)", data, ok, err)
	}
}

func TestLogsAreIsolatedByChannel(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	var a, b [32]byte
	a[0], b[0] = 0xAA, 0xBB

	s.AppendEventLog(ctx, a, []byte("a1"))
	s.AppendEventLog(ctx, b, []byte("b1"))
	s.AppendEventLog(ctx, a, []byte("a2"))

	recordsA, _ := s.ReadEventLog(ctx, a)
	recordsB, _ := s.ReadEventLog(ctx, b)
	if len(recordsA) != 2 || len(recordsB) != 1 {
		t.Fatalf("len(a)=%d len(b)=%d, want 2 and 1", len(recordsA), len(recordsB))
	}
}
