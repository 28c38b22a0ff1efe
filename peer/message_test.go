package peer

import (
	"bytes"
	"testing"
)

func TestMessageRoundTripWithID(t *testing.T) {
	id := uint16(42)
	msg := Message{Type: TypeRequestCoinState, ID: &id, Data: []byte("hello")}

	var buf bytes.Buffer
	if err := writeMessage(&buf, msg); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	got, err := readMessage(&buf)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if got.Type != msg.Type {
		t.Errorf("type = %v, want %v", got.Type, msg.Type)
	}
	if got.ID == nil || *got.ID != id {
		t.Errorf("id = %v, want %d", got.ID, id)
	}
	if !bytes.Equal(got.Data, msg.Data) {
		t.Errorf("data = %q, want %q", got.Data, msg.Data)
	}
}

func TestMessageRoundTripNoID(t *testing.T) {
	msg := Message{Type: TypeCoinStateUpdate, Data: []byte("push")}

	var buf bytes.Buffer
	if err := writeMessage(&buf, msg); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	got, err := readMessage(&buf)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if got.ID != nil {
		t.Errorf("id = %v, want nil", got.ID)
	}
	if !bytes.Equal(got.Data, msg.Data) {
		t.Errorf("data = %q, want %q", got.Data, msg.Data)
	}
}

func TestMessageEmptyBody(t *testing.T) {
	msg := Message{Type: TypeRequestPeers}

	var buf bytes.Buffer
	if err := writeMessage(&buf, msg); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	got, err := readMessage(&buf)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if len(got.Data) != 0 {
		t.Errorf("data = %v, want empty", got.Data)
	}
}

func TestMessageOversizedFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(TypeRequestPeers))
	buf.WriteByte(0)
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // length prefix far beyond maxFrameLen

	if _, err := readMessage(&buf); err != ErrFrameTooLarge {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestRequestTableResolveDeliversToWaiter(t *testing.T) {
	rt := newRequestTable()
	id, ch := rt.insert()
	rt.resolve(id, Message{Type: TypeRespondPeers, Data: []byte("ok")})

	select {
	case msg := <-ch:
		if string(msg.Data) != "ok" {
			t.Errorf("data = %q, want ok", msg.Data)
		}
	default:
		t.Fatal("expected a resolved message, channel was empty")
	}
}

func TestRequestTableFailAllClosesWaiters(t *testing.T) {
	rt := newRequestTable()
	_, ch1 := rt.insert()
	_, ch2 := rt.insert()
	rt.failAll(ErrClosed)

	for _, ch := range []chan Message{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Fatal("expected channel to be closed")
		}
	}
}
