// Package wire implements the length-prefixed protobuf framing used
// by hwkerneld's control socket. A driver process issues one Request
// per kernel syscall it wants the daemon to perform and reads back one
// Response.
//
// Messages are google.protobuf.Struct values, not a hand-written
// generated message: the control protocol's shape (an op name plus a
// small bag of scalar arguments) maps directly onto Struct's dynamic
// field set, so there is no .proto/.pb.go to generate or keep in
// sync. This is unrelated to the in-kernel UTCB payload, which stays
// a raw byte slice end to end — framing it as protobuf would corrupt
// the byte-for-byte semantics IPC relies on.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxMessageBytes bounds a single framed message, guarding the daemon
// against a misbehaving client sending an unbounded length prefix.
const MaxMessageBytes = 1 << 20

// Request is one control-protocol call: an operation name plus its
// arguments, e.g. {"op": "new_thread", "args": {"label": "...", ...}}.
type Request struct {
	Op   string
	Args map[string]any
}

// Response reports the outcome of a Request. Result is populated only
// when OK is true; Error carries the sentinel kernelerr string
// otherwise (the daemon process is the only thing that ever sees a Go
// error value — the wire format only ever carries its text).
type Response struct {
	OK     bool
	Error  string
	Result map[string]any
}

// EncodeRequest converts r into its wire Struct.
func EncodeRequest(r Request) (*structpb.Struct, error) {
	args, err := structpb.NewStruct(r.Args)
	if err != nil {
		return nil, fmt.Errorf("wire: encode request args: %w", err)
	}
	return structpb.NewStruct(map[string]any{
		"op":   r.Op,
		"args": args.AsMap(),
	})
}

// DecodeRequest reconstructs a Request from its wire Struct.
func DecodeRequest(s *structpb.Struct) (Request, error) {
	op, ok := s.Fields["op"]
	if !ok || op.GetStringValue() == "" {
		return Request{}, fmt.Errorf("wire: request missing op")
	}
	var args map[string]any
	if a, ok := s.Fields["args"]; ok {
		args = a.GetStructValue().AsMap()
	}
	return Request{Op: op.GetStringValue(), Args: args}, nil
}

// EncodeResponse converts r into its wire Struct.
func EncodeResponse(r Response) (*structpb.Struct, error) {
	fields := map[string]any{"ok": r.OK}
	if r.Error != "" {
		fields["error"] = r.Error
	}
	if r.Result != nil {
		fields["result"] = r.Result
	}
	return structpb.NewStruct(fields)
}

// DecodeResponse reconstructs a Response from its wire Struct.
func DecodeResponse(s *structpb.Struct) (Response, error) {
	r := Response{}
	if ok, found := s.Fields["ok"]; found {
		r.OK = ok.GetBoolValue()
	}
	if errv, found := s.Fields["error"]; found {
		r.Error = errv.GetStringValue()
	}
	if res, found := s.Fields["result"]; found {
		r.Result = res.GetStructValue().AsMap()
	}
	return r, nil
}

// WriteMessage frames msg as a 4-byte big-endian length prefix
// followed by its protobuf binary encoding.
func WriteMessage(w io.Writer, msg proto.Message) error {
	b, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	if len(b) > MaxMessageBytes {
		return fmt.Errorf("wire: message too large: %d bytes", len(b))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed protobuf message into s.
func ReadMessage(r io.Reader, s *structpb.Struct) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxMessageBytes {
		return fmt.Errorf("wire: message too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("wire: read body: %w", err)
	}
	if err := proto.Unmarshal(body, s); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

// WriteRequest and ReadRequest/ReadResponse/WriteResponse are the
// typed convenience wrappers used by the client and server sides of
// the control socket.

func WriteRequest(w io.Writer, r Request) error {
	s, err := EncodeRequest(r)
	if err != nil {
		return err
	}
	return WriteMessage(w, s)
}

func ReadRequest(r io.Reader) (Request, error) {
	var s structpb.Struct
	if err := ReadMessage(r, &s); err != nil {
		return Request{}, err
	}
	return DecodeRequest(&s)
}

func WriteResponse(w io.Writer, resp Response) error {
	s, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return WriteMessage(w, s)
}

func ReadResponse(r io.Reader) (Response, error) {
	var s structpb.Struct
	if err := ReadMessage(r, &s); err != nil {
		return Response{}, err
	}
	return DecodeResponse(&s)
}
