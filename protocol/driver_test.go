package protocol_test

import (
	"testing"
	"time"

	"github.com/waldow90/device-os/channel"
	"github.com/waldow90/device-os/channel/memchannel"
	"github.com/waldow90/device-os/coap"
	"github.com/waldow90/device-os/protocol"
)

type fakeFlash struct {
	prepared  bool
	committed bool
	aborted   bool
	chunks    [][]byte
}

func (f *fakeFlash) Prepare(fileSize int) error   { f.prepared = true; return nil }
func (f *fakeFlash) WriteChunk(data []byte) error { f.chunks = append(f.chunks, append([]byte(nil), data...)); return nil }
func (f *fakeFlash) Commit() error                { f.committed = true; return nil }
func (f *fakeFlash) Abort()                       { f.aborted = true }

// fixedMillis returns a Millis-shaped closure over a pointer the test can
// advance manually, mirroring timesync's fakeMillis fixture.
func fixedMillis(cur *uint32) func() uint32 {
	return func() uint32 { return *cur }
}

func establishAndBegin(t *testing.T, device, cloud *memchannel.Endpoint, drv *protocol.Driver) channel.EstablishResult {
	t.Helper()
	cloudErr := make(chan error, 1)
	go func() {
		_, err := cloud.Establish()
		cloudErr <- err
	}()
	result, err := drv.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := <-cloudErr; err != nil {
		t.Fatalf("cloud establish: %v", err)
	}
	return result
}

func TestBeginSendsHelloAfterFreshHandshake(t *testing.T) {
	device, cloud := memchannel.NewPair(time.Minute)
	var clock uint32
	drv := protocol.New(device, device, &fakeFlash{}, protocol.Callbacks{Millis: fixedMillis(&clock)})

	result := establishAndBegin(t, device, cloud, drv)
	if result != channel.EstablishOK {
		t.Fatalf("got result %v, want EstablishOK for a fresh handshake", result)
	}

	frame, err := cloud.Receive()
	if err != nil {
		t.Fatalf("cloud receive: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a HELLO frame from the device")
	}
	msg, err := coap.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.MsgType != coap.Hello {
		t.Fatalf("got message type %v, want HELLO", msg.MsgType)
	}
	if msg.Type != coap.CON {
		t.Fatalf("expected HELLO to be sent confirmable, got %v", msg.Type)
	}
}

func TestBeginReturnsSessionResumedOnRedial(t *testing.T) {
	device, cloud := memchannel.NewPair(time.Minute)
	var clock uint32
	drv := protocol.New(device, device, &fakeFlash{}, protocol.Callbacks{Millis: fixedMillis(&clock)})

	if result := establishAndBegin(t, device, cloud, drv); result != channel.EstablishOK {
		t.Fatalf("got %v, want EstablishOK on the first Begin", result)
	}
	drainAll(t, cloud) // discard the first HELLO

	result := establishAndBegin(t, device, cloud, drv)
	if result != channel.SessionResumed {
		t.Fatalf("got %v, want SessionResumed on a redial with a live cached session", result)
	}
}

func TestStepRespondsToDescribeRequestWithAckThenContent(t *testing.T) {
	device, cloud := memchannel.NewPair(time.Minute)
	var clock uint32
	drv := protocol.New(device, device, &fakeFlash{}, protocol.Callbacks{Millis: fixedMillis(&clock)})
	establishAndBegin(t, device, cloud, drv)
	drainAll(t, cloud) // discard the HELLO

	req := &coap.Message{ID: 5, Type: coap.CON, Code: coap.CodeGET, MsgType: coap.Describe, Token: [4]byte{1, 2, 3, 4}, TokenLen: 4}
	if err := cloud.Send(coap.Encode(req), false); err != nil {
		t.Fatalf("cloud send: %v", err)
	}

	if _, err := drv.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	ackFrame, err := cloud.Receive()
	if err != nil || ackFrame == nil {
		t.Fatalf("expected an ack frame, err=%v", err)
	}
	ack, err := coap.Decode(ackFrame)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Type != coap.ACK || ack.Code != coap.CodeEmpty {
		t.Fatalf("got %v/%v, want empty ACK", ack.Type, ack.Code)
	}

	respFrame, err := cloud.Receive()
	if err != nil || respFrame == nil {
		t.Fatalf("expected a describe response frame, err=%v", err)
	}
	resp, err := coap.Decode(respFrame)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != coap.CodeContent || resp.MsgType != coap.Describe {
		t.Fatalf("got code=%v msgType=%v, want CodeContent/Describe", resp.Code, resp.MsgType)
	}
	if want := `{"f":[],"v":{}}`; string(resp.Payload) != want {
		t.Fatalf("got payload %q, want %q", resp.Payload, want)
	}
}

func TestStepDispatchesFunctionCallToCallback(t *testing.T) {
	device, cloud := memchannel.NewPair(time.Minute)
	var clock uint32

	var gotPayload []byte
	drv := protocol.New(device, device, &fakeFlash{}, protocol.Callbacks{
		Millis: fixedMillis(&clock),
		CallFunction: func(payload []byte, respond protocol.Responder) {
			gotPayload = payload
			respond(coap.CodeChanged, []byte("ok"))
		},
	})
	establishAndBegin(t, device, cloud, drv)
	drainAll(t, cloud)

	req := &coap.Message{
		ID: 9, Type: coap.CON, Code: coap.CodePOST, MsgType: coap.FunctionCall,
		Token: [4]byte{9, 9, 9, 9}, TokenLen: 4, Payload: []byte("turnOn"),
	}
	if err := cloud.Send(coap.Encode(req), false); err != nil {
		t.Fatalf("cloud send: %v", err)
	}
	if _, err := drv.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if string(gotPayload) != "turnOn" {
		t.Fatalf("callback got payload %q, want turnOn", gotPayload)
	}

	respFrame, err := cloud.Receive()
	if err != nil || respFrame == nil {
		t.Fatalf("expected a response frame, err=%v", err)
	}
	resp, err := coap.Decode(respFrame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != coap.CodeChanged || string(resp.Payload) != "ok" {
		t.Fatalf("got code=%v payload=%q, want CodeChanged/ok", resp.Code, resp.Payload)
	}
}

func TestStepDropsFunctionCallMissingToken(t *testing.T) {
	device, cloud := memchannel.NewPair(time.Minute)
	var clock uint32
	called := false
	drv := protocol.New(device, device, &fakeFlash{}, protocol.Callbacks{
		Millis:       fixedMillis(&clock),
		CallFunction: func([]byte, protocol.Responder) { called = true },
	})
	establishAndBegin(t, device, cloud, drv)
	drainAll(t, cloud)

	req := &coap.Message{ID: 3, Type: coap.CON, Code: coap.CodePOST, MsgType: coap.FunctionCall}
	if err := cloud.Send(coap.Encode(req), false); err != nil {
		t.Fatalf("cloud send: %v", err)
	}
	if _, err := drv.Step(); err == nil {
		t.Fatal("expected MissingRequestToken error")
	}
	if called {
		t.Fatal("callback should not run without a token")
	}
}

func TestStepAcksPing(t *testing.T) {
	device, cloud := memchannel.NewPair(time.Minute)
	var clock uint32
	drv := protocol.New(device, device, &fakeFlash{}, protocol.Callbacks{Millis: fixedMillis(&clock)})
	establishAndBegin(t, device, cloud, drv)
	drainAll(t, cloud)

	req := &coap.Message{ID: 42, Type: coap.CON, Code: coap.CodeEmpty, MsgType: coap.Ping}
	if err := cloud.Send(coap.Encode(req), false); err != nil {
		t.Fatalf("cloud send: %v", err)
	}
	if _, err := drv.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	frame, err := cloud.Receive()
	if err != nil || frame == nil {
		t.Fatalf("expected an ack frame, err=%v", err)
	}
	ack, err := coap.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack.Type != coap.ACK || ack.ID != 42 {
		t.Fatalf("got type=%v id=%d, want ACK/42", ack.Type, ack.ID)
	}
}

func TestWaitForTimesOutWithoutMatchingMessage(t *testing.T) {
	device, cloud := memchannel.NewPair(time.Minute)
	var clock uint32
	drv := protocol.New(device, device, &fakeFlash{}, protocol.Callbacks{
		Millis: func() uint32 { clock += 10; return clock },
	})
	establishAndBegin(t, device, cloud, drv)

	_, err := drv.WaitFor(coap.Time, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func drainAll(t *testing.T, cloud *memchannel.Endpoint) {
	t.Helper()
	for i := 0; i < 8; i++ {
		frame, err := cloud.Receive()
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if frame == nil {
			return
		}
	}
}
