package describe

import (
	"bytes"
	"strings"
	"testing"

	"github.com/waldow90/device-os/protocolerr"
)

type fakeSystemInfo struct{}

func (fakeSystemInfo) AppendSystemInfo(sink *bytes.Buffer) {
	sink.WriteString(`"p":"photon"`)
}

func TestBuildApplicationOnly(t *testing.T) {
	b := New(Manifest{
		Functions: []Function{{Name: "digitalWrite"}},
		Variables: []Variable{{Name: "temp", Type: 2}},
	})
	payload, err := b.Build(Application, 4096)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"f":["digitalWrite"],"v":{"temp":2}}`
	if string(payload) != want {
		t.Fatalf("got %q want %q", payload, want)
	}
}

func TestBuildSystemOnlyMatchesFlagsSystem(t *testing.T) {
	b := New(Manifest{SystemInfo: fakeSystemInfo{}})
	payload, err := b.Build(System, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != `{"p":"photon"}` {
		t.Fatalf("unexpected system-only payload: %q", payload)
	}
}

func TestMeasureAndBuildAgree(t *testing.T) {
	b := New(Manifest{
		Functions: []Function{{Name: "a"}, {Name: "b"}},
		Variables: []Variable{{Name: "v", Type: 0}},
		SystemInfo: fakeSystemInfo{},
	})
	for _, flags := range []Flags{Application, System, Application | System} {
		payload, err := b.Build(flags, 4096)
		if err != nil {
			t.Fatal(err)
		}
		if got := b.Measure(flags); got != len(payload) {
			t.Fatalf("flags=%d: measure=%d, len(build)=%d", flags, got, len(payload))
		}
	}
}

func TestFunctionNameTruncatedToLimit(t *testing.T) {
	long := strings.Repeat("x", MaxFunctionKeyLength+10)
	b := New(Manifest{Functions: []Function{{Name: long}}})
	payload, err := b.Build(Application, 4096)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"f":["` + strings.Repeat("x", MaxFunctionKeyLength) + `"],"v":{}}`
	if string(payload) != want {
		t.Fatalf("truncation mismatch:\ngot  %q\nwant %q", payload, want)
	}
}

func TestBuildOverflowsIsFatal(t *testing.T) {
	b := New(Manifest{Functions: []Function{{Name: "digitalWrite"}}})
	_, err := b.Build(Application, 4)
	if err != protocolerr.DescribeOverflow {
		t.Fatalf("expected DescribeOverflow, got %v", err)
	}
}

func TestMetricsInIsolationProducesBinaryBlob(t *testing.T) {
	b := New(Manifest{Metrics: metricsFunc(func(sink *bytes.Buffer) { sink.Write([]byte{9, 9}) })})
	payload, err := b.Build(Metrics, 4096)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x02, 0x00, 9, 9}
	if !bytes.Equal(payload, want) {
		t.Fatalf("got %v want %v", payload, want)
	}
}

func TestMetricsCombinedWithOtherFlagsIsText(t *testing.T) {
	b := New(Manifest{
		Metrics: metricsFunc(func(sink *bytes.Buffer) { sink.Write([]byte{9, 9}) }),
	})
	payload, err := b.Build(Application|Metrics, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if payload[0] == 0x00 {
		t.Fatalf("expected text manifest when Metrics is combined with other flags, got binary: %v", payload)
	}
}

type metricsFunc func(sink *bytes.Buffer)

func (f metricsFunc) AppendMetrics(sink *bytes.Buffer) { f(sink) }
