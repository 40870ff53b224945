// Command deviced demonstrates the protocol driver end to end over the
// in-process memchannel loopback: a simulated device establishes a secure
// session, exchanges HELLO and DESCRIBE, and answers one function call from
// a simulated cloud peer. It stands in for the teacher's _example/main.go
// server/client demo, adapted from a real UDP listener into a driver+channel
// wiring exercise since this system has no network listener of its own —
// the channel is always a borrowed capability the host supplies.
package main

import (
	"bytes"
	"fmt"
	"time"

	log "github.com/ndmsystems/logger"

	"github.com/waldow90/device-os/channel/memchannel"
	"github.com/waldow90/device-os/coap"
	"github.com/waldow90/device-os/describe"
	"github.com/waldow90/device-os/protocol"
)

// flashDevNull discards firmware chunks; this demo never exercises OTA.
type flashDevNull struct{}

func (flashDevNull) Prepare(int) error      { return nil }
func (flashDevNull) WriteChunk([]byte) error { return nil }
func (flashDevNull) Commit() error          { return nil }
func (flashDevNull) Abort()                 {}

type systemInfo struct{}

func (systemInfo) AppendSystemInfo(sink *bytes.Buffer) {
	sink.WriteString(`"p":6,"m":[{"s":16384,"l":"m","vc":30,"v":30,"f":"b","n":"0","v":30}]`)
}

func main() {
	device, cloud := memchannel.NewPair(5 * time.Minute)

	var clock uint32
	millis := func() uint32 {
		clock += 10
		return clock
	}

	manifest := describe.Manifest{
		Functions:  []describe.Function{{Name: "digitalWrite"}, {Name: "digitalRead"}},
		Variables:  []describe.Variable{{Name: "temperature", Type: describe.VariableType(2)}},
		SystemInfo: systemInfo{},
	}

	drv := protocol.New(device, device, flashDevNull{}, protocol.Callbacks{
		Millis: millis,
		CallFunction: func(payload []byte, respond protocol.Responder) {
			log.Info("function call received:", string(payload))
			respond(coap.CodeChanged, []byte("1"))
		},
		Panic: func(reason string) {
			log.Error("fatal protocol condition:", reason)
		},
	}, protocol.WithManifest(manifest), protocol.WithFlags(protocol.FlagDeviceInitiatedDescribe))

	cloudDone := make(chan struct{})
	go runSimulatedCloud(cloud, cloudDone)

	result, err := drv.Begin()
	if err != nil {
		log.Error("handshake failed:", err)
		return
	}
	log.Info("handshake result:", result)

	for i := 0; i < 20; i++ {
		if _, err := drv.Step(); err != nil {
			log.Error("step failed:", err)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	cloud.Close()
	<-cloudDone
}

// runSimulatedCloud plays the cloud side of the conversation: it completes
// the handshake, prints every frame it receives, and issues one FUNCTION_CALL
// once the device's HELLO has arrived.
func runSimulatedCloud(cloud *memchannel.Endpoint, done chan struct{}) {
	defer close(done)

	result, err := cloud.Establish()
	if err != nil {
		log.Error("cloud establish failed:", err)
		return
	}
	log.Info("cloud established:", result)

	sentCall := false
	sawHello := false
	for {
		frame, err := cloud.Receive()
		if err != nil {
			return
		}
		if frame == nil {
			time.Sleep(2 * time.Millisecond)
			if sawHello && !sentCall {
				sentCall = true
				msg := &coap.Message{
					ID: 100, Type: coap.CON, Code: coap.CodePOST, MsgType: coap.FunctionCall,
					Token: [4]byte{1, 1, 1, 1}, TokenLen: 4, Payload: []byte("digitalWrite:13:1"),
				}
				cloud.Send(coap.Encode(msg), false)
			}
			continue
		}
		msg, err := coap.Decode(frame)
		if err != nil {
			log.Error("cloud decode failed:", err)
			continue
		}
		if msg.MsgType == coap.Hello {
			sawHello = true
		}
		fmt.Printf("cloud received: type=%v code=%v msgType=%v payload=%q\n", msg.Type, msg.Code, msg.MsgType, msg.Payload)
	}
}
