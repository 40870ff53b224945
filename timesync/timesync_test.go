package timesync

import "testing"

func fakeMillis(cur *uint32) Millis {
	return func() uint32 { return *cur }
}

func TestHandleResponseParsesBigEndianSeconds(t *testing.T) {
	cur := uint32(0)
	s := New(fakeMillis(&cur), 4000)
	s.Request()

	payload := make([]byte, 12)
	// bytes 8..11 = 0x60771B00 as an arbitrary UNIX timestamp
	payload[8] = 0x60
	payload[9] = 0x77
	payload[10] = 0x1B
	payload[11] = 0x00

	var got uint32
	err := s.HandleResponse(payload, func(seconds uint32) { got = seconds })
	if err != nil {
		t.Fatal(err)
	}
	want := uint32(0x60771B00)
	if got != want {
		t.Fatalf("got %#x want %#x", got, want)
	}
	if s.Pending() {
		t.Fatal("expected Pending to be false after a handled response")
	}
}

func TestHandleResponseMatchesWorkedExample(t *testing.T) {
	cur := uint32(0)
	s := New(fakeMillis(&cur), 4000)
	s.Request()

	payload := []byte{0x00, 0x00, 0x00, 0x00, 0x5F, 0x5F, 0x5F, 0x5F, 0x60, 0x00, 0x00, 0x00}

	var got uint32
	if err := s.HandleResponse(payload, func(seconds uint32) { got = seconds }); err != nil {
		t.Fatal(err)
	}
	if want := uint32(0x60000000); got != want {
		t.Fatalf("got %#x want %#x", got, want)
	}
}

func TestHandleResponseRejectsShortPayload(t *testing.T) {
	cur := uint32(0)
	s := New(fakeMillis(&cur), 4000)
	err := s.HandleResponse([]byte{1, 2, 3}, func(uint32) {
		t.Fatal("setClock should not be called on a short payload")
	})
	if err != ErrShortPayload {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
}

func TestPendingTimesOutAfterTimeout(t *testing.T) {
	cur := uint32(0)
	s := New(fakeMillis(&cur), 1000)
	s.Request()

	cur = 500
	if !s.Pending() {
		t.Fatal("expected still pending before timeout elapses")
	}

	cur = 1500
	if s.Pending() {
		t.Fatal("expected pending to clear once timeout elapses")
	}
}

func TestResetClearsPending(t *testing.T) {
	cur := uint32(0)
	s := New(fakeMillis(&cur), 1000)
	s.Request()
	s.Reset()
	if s.Pending() {
		t.Fatal("expected Reset to clear the outstanding request")
	}
}
