package wire

import (
	"bytes"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Op: "new_thread", Args: map[string]any{"label": "client", "prio": float64(2)}}
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	got, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.Op != req.Op {
		t.Fatalf("op = %q, want %q", got.Op, req.Op)
	}
	if got.Args["label"] != "client" {
		t.Fatalf("args[label] = %v, want client", got.Args["label"])
	}
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{OK: false, Error: "kernel: invalid argument"}
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	got, err := ReadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if got.OK || got.Error != resp.Error {
		t.Fatalf("got %+v, want %+v", got, resp)
	}
}

func TestOversizedMessageRejected(t *testing.T) {
	var buf bytes.Buffer
	huge := make(map[string]any, 1)
	huge["blob"] = string(make([]byte, MaxMessageBytes+1))
	if err := WriteRequest(&buf, Request{Op: "noop", Args: huge}); err == nil {
		t.Fatalf("WriteRequest with oversized payload: want error, got nil")
	}
}
