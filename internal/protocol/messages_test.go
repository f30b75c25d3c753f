package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientFrame_Chat(t *testing.T) {
	input := []byte(`{"type":"chat","receiverId":9,"content":"hi","messageType":"text"}`)

	kind, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != TypeChat {
		t.Fatalf("expected kind %q, got %q", TypeChat, kind)
	}

	cf, ok := msg.(ChatFrame)
	if !ok {
		t.Fatalf("expected ChatFrame, got %T", msg)
	}
	if cf.ReceiverID != 9 {
		t.Errorf("receiverId = %d, want 9", cf.ReceiverID)
	}
	if cf.Content != "hi" {
		t.Errorf("content = %q, want %q", cf.Content, "hi")
	}
	if cf.MessageType != "text" {
		t.Errorf("messageType = %q, want %q", cf.MessageType, "text")
	}
}

func TestParseClientFrame_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","receiverId":3,"isTyping":true}`)

	kind, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != TypeTyping {
		t.Fatalf("expected kind %q, got %q", TypeTyping, kind)
	}

	tf, ok := msg.(TypingFrame)
	if !ok {
		t.Fatalf("expected TypingFrame, got %T", msg)
	}
	if tf.ReceiverID != 3 || !tf.IsTyping {
		t.Errorf("unexpected frame: %+v", tf)
	}
}

func TestParseClientFrame_MarkRead(t *testing.T) {
	input := []byte(`{"type":"mark_read","peerId":4,"messageIds":["a","b"]}`)

	_, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mf, ok := msg.(MarkReadFrame)
	if !ok {
		t.Fatalf("expected MarkReadFrame, got %T", msg)
	}
	if mf.PeerID != 4 || len(mf.MessageIDs) != 2 {
		t.Errorf("unexpected frame: %+v", mf)
	}
}

// Unknown kinds are reported with ErrUnknownFrame so the router can
// distinguish them from malformed input.
func TestParseClientFrame_UnknownKind(t *testing.T) {
	kind, _, err := ParseClientFrame([]byte(`{"type":"video_call","receiverId":1}`))
	if !errors.Is(err, ErrUnknownFrame) {
		t.Fatalf("expected ErrUnknownFrame, got %v", err)
	}
	if kind != "video_call" {
		t.Errorf("kind = %q, want video_call", kind)
	}
}

func TestParseClientFrame_MissingType(t *testing.T) {
	if _, _, err := ParseClientFrame([]byte(`{"receiverId":1}`)); err == nil {
		t.Fatal("expected error for missing type field")
	}
	if _, _, err := ParseClientFrame([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestNewServerEnvelope_InjectsType(t *testing.T) {
	data, err := NewServerEnvelope(TypeNewMessage, NewMessage{
		MessageID:   "m-1",
		SenderID:    7,
		Content:     "hi",
		MessageType: "text",
		SendTime:    1700000000000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeNewMessage {
		t.Errorf("type = %v, want %q", result["type"], TypeNewMessage)
	}
	if result["messageId"] != "m-1" {
		t.Errorf("messageId = %v, want m-1", result["messageId"])
	}
	if result["senderId"] != float64(7) {
		t.Errorf("senderId = %v, want 7", result["senderId"])
	}
}
