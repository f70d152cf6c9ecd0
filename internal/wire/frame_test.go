package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestFrame_EncodeLayout(t *testing.T) {
	f := &Frame{Type: TypePub, Flags: 0x07, Payload: []byte("hello")}
	buf, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := []byte{0x03, 0x07, 0x00, 0x05, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(buf, want) {
		t.Errorf("encoded bytes = %x, want %x", buf, want)
	}
}

func TestFrame_EncodeBigEndianLength(t *testing.T) {
	f := NewFrame(TypeSub, bytes.Repeat([]byte{0xAA}, 0x0102))
	buf, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf[2] != 0x01 || buf[3] != 0x02 {
		t.Errorf("length bytes = %02x %02x, want 01 02", buf[2], buf[3])
	}
}

func TestFrame_EncodePayloadTooLarge(t *testing.T) {
	f := NewFrame(TypePub, make([]byte, MaxPayload+1))
	if _, err := f.Encode(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		flags   uint8
		payload []byte
	}{
		{"empty payload", TypeConnack, 0, nil},
		{"small payload", TypeConn, 0, []byte("alice")},
		{"flags set", TypeAdminReqAck, 1, []byte(`{"error_code":"SELF_REQUEST"}`)},
		{"binary payload", TypeAdminResponse, 0, []byte{0x01, 0x03, 'a', 'b', 'c', 0x00}},
		{"max payload", TypePub, 0, bytes.Repeat([]byte{0x42}, MaxPayload)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &Frame{Type: tt.typ, Flags: tt.flags, Payload: tt.payload}
			buf, err := in.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			out, n, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if n != HeaderSize+len(tt.payload) {
				t.Errorf("consumed = %d, want %d", n, HeaderSize+len(tt.payload))
			}
			if out.Type != tt.typ {
				t.Errorf("type = %v, want %v", out.Type, tt.typ)
			}
			if out.Flags != tt.flags {
				t.Errorf("flags = %d, want %d", out.Flags, tt.flags)
			}
			if !bytes.Equal(out.Payload, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(out.Payload), len(tt.payload))
			}
		})
	}
}

func TestDecode_NeedMore(t *testing.T) {
	full, err := (&Frame{Type: TypePub, Payload: []byte("abcdef")}).Encode()
	if err != nil {
		t.Fatal(err)
	}

	// Every strict prefix of a frame must report ErrNeedMore with
	// zero bytes consumed.
	for i := 0; i < len(full); i++ {
		f, n, err := Decode(full[:i])
		if !errors.Is(err, ErrNeedMore) {
			t.Fatalf("prefix %d: expected ErrNeedMore, got %v", i, err)
		}
		if f != nil || n != 0 {
			t.Fatalf("prefix %d: got (%v, %d), want (nil, 0)", i, f, n)
		}
	}
}

func TestDecode_UnknownTypeConsumesFrame(t *testing.T) {
	buf := []byte{0x7F, 0x00, 0x00, 0x03, 'x', 'y', 'z'}
	f, n, err := Decode(buf)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if f != nil {
		t.Errorf("frame = %v, want nil", f)
	}
	if n != 7 {
		t.Errorf("consumed = %d, want 7", n)
	}
}

func TestDecode_UnknownTypeShortBufferWaits(t *testing.T) {
	// An unknown type whose payload has not fully arrived must wait
	// rather than consume ahead of the data.
	buf := []byte{0x7F, 0x00, 0x00, 0x10, 'x'}
	_, n, err := Decode(buf)
	if !errors.Is(err, ErrNeedMore) {
		t.Fatalf("expected ErrNeedMore, got %v", err)
	}
	if n != 0 {
		t.Errorf("consumed = %d, want 0", n)
	}
}

func TestDecode_Stream(t *testing.T) {
	frames := []*Frame{
		{Type: TypeConn, Payload: []byte("alice")},
		{Type: TypeConnack},
		{Type: TypeSub, Payload: []byte(`["bob/weather"]`)},
		{Type: TypePub, Flags: 0, Payload: bytes.Repeat([]byte{0x01}, 300)},
	}

	var stream []byte
	for _, f := range frames {
		buf, err := f.Encode()
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, buf...)
	}

	var got []*Frame
	for len(stream) > 0 {
		f, n, err := Decode(stream)
		if err != nil {
			t.Fatalf("Decode failed mid-stream: %v", err)
		}
		got = append(got, f)
		stream = stream[n:]
	}

	if len(got) != len(frames) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(frames))
	}
	for i, f := range got {
		if f.Type != frames[i].Type {
			t.Errorf("frame %d: type = %v, want %v", i, f.Type, frames[i].Type)
		}
		if !bytes.Equal(f.Payload, frames[i].Payload) {
			t.Errorf("frame %d: payload mismatch", i)
		}
	}
}

func TestDecode_PayloadIsCopied(t *testing.T) {
	buf, err := (&Frame{Type: TypePub, Payload: []byte("abc")}).Encode()
	if err != nil {
		t.Fatal(err)
	}
	f, _, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}

	buf[HeaderSize] = 'Z'
	if f.Payload[0] != 'a' {
		t.Error("decoded payload aliases the input buffer")
	}
}

func TestReadFrame(t *testing.T) {
	var stream bytes.Buffer
	want := &Frame{Type: TypeMyTopicsResp, Payload: []byte(`[{"name":"weather"}]`)}
	if _, err := want.WriteTo(&stream); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFrame(&stream)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("got %v %q, want %v %q", got.Type, got.Payload, want.Type, want.Payload)
	}

	if _, err := ReadFrame(&stream); err != io.EOF {
		t.Errorf("expected io.EOF on drained stream, got %v", err)
	}
}

func TestReadFrame_Truncated(t *testing.T) {
	full, err := (&Frame{Type: TypePub, Payload: []byte("abcdef")}).Encode()
	if err != nil {
		t.Fatal(err)
	}
	_, err = ReadFrame(bytes.NewReader(full[:6]))
	if err == nil {
		t.Fatal("expected error for truncated payload")
	}
}
