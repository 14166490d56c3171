package observability

import (
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/vesoko/marketplace-api/internal/platform/requestctx"
)

func TestRemoteSpanContextParsesCloudTraceHeader(t *testing.T) {
	header := "105445aa7843bc8bf206b12000100000/123456789;o=1"

	sc, ok := remoteSpanContext(header)
	if !ok {
		t.Fatalf("header %q not accepted", header)
	}
	if got := sc.TraceID().String(); got != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("trace id = %s", got)
	}
	if !sc.IsSampled() {
		t.Fatal("o=1 must mark the context sampled")
	}
	if !sc.IsRemote() {
		t.Fatal("parsed context must be remote")
	}
	// 123456789 decimal is 075bcd15 hex.
	if got := sc.SpanID().String(); got != "00000000075bcd15" {
		t.Fatalf("span id = %s", got)
	}
}

func TestRemoteSpanContextAcceptsHexSpanIDs(t *testing.T) {
	sc, ok := remoteSpanContext("105445aa7843bc8bf206b12000100000/a3ce929d0e0e4736;o=0")
	if !ok {
		t.Fatal("hex span id not accepted")
	}
	if sc.IsSampled() {
		t.Fatal("o=0 must not mark the context sampled")
	}
	if got := sc.SpanID().String(); got != "a3ce929d0e0e4736" {
		t.Fatalf("span id = %s", got)
	}
}

func TestRemoteSpanContextRejectsMalformedHeaders(t *testing.T) {
	for _, header := range []string{
		"",
		"no-slash",
		"tooshort/1;o=1",
		"105445aa7843bc8bf206b12000100000/;o=1",
		"105445aa7843bc8bf206b12000100000/not-a-span;o=1",
		"105445aa7843bc8bf206b12000100000/0;o=1",
	} {
		if _, ok := remoteSpanContext(header); ok {
			t.Fatalf("header %q unexpectedly accepted", header)
		}
	}
}

func TestEncodeTraceHeaderRoundTrip(t *testing.T) {
	info := requestctx.TraceInfo{
		TraceID: "105445aa7843bc8bf206b12000100000",
		SpanID:  "00000000075bcd15",
		Sampled: true,
	}
	encoded := encodeTraceHeader(info)
	if encoded != "105445aa7843bc8bf206b12000100000/00000000075bcd15;o=1" {
		t.Fatalf("encoded = %q", encoded)
	}

	sc, ok := remoteSpanContext(encoded)
	if !ok {
		t.Fatal("encoded header did not parse back")
	}
	wantSpan, _ := trace.SpanIDFromHex(info.SpanID)
	if sc.SpanID() != wantSpan {
		t.Fatalf("span id = %s", sc.SpanID())
	}
}
