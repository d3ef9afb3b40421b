package api_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/jjrasche/voice-chat-app/pkg/provider/llm"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// speechFrame mirrors the server's WebSocket event shape.
type speechFrame struct {
	Type    string         `json:"type"`
	Active  bool           `json:"active"`
	Message *types.Message `json:"message"`
	Text    string         `json:"text"`
	Session *struct {
		ChatID       string   `json:"chatId"`
		UnlockedDocs []string `json:"unlockedDocs"`
		ActiveDoc    string   `json:"activeDoc"`
	} `json:"session"`
}

func dialSpeech(t *testing.T, env *testEnv) (*websocket.Conn, context.Context) {
	t.Helper()

	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, srv.URL+"/api/speech", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) speechFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f speechFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return f
}

func TestSpeech_InitSendsSessionSnapshot(t *testing.T) {
	env := newTestEnv(t)
	conn, ctx := dialSpeech(t, env)

	sendFrame(t, ctx, conn, map[string]any{"type": "init", "voice": true})

	f := readFrame(t, ctx, conn)
	if f.Type != "session" {
		t.Fatalf("frame type = %q, want session", f.Type)
	}
	if f.Session == nil || f.Session.ChatID == "" {
		t.Fatal("session snapshot missing chat id")
	}
	if f.Session.ActiveDoc != "beliefs" {
		t.Errorf("activeDoc = %q, want beliefs", f.Session.ActiveDoc)
	}
	found := false
	for _, d := range f.Session.UnlockedDocs {
		if d == "beliefs" {
			found = true
		}
	}
	if !found {
		t.Errorf("unlockedDocs = %v, want beliefs included", f.Session.UnlockedDocs)
	}
}

func TestSpeech_TextTurnStreamsEvents(t *testing.T) {
	env := newTestEnv(t)
	env.llm.CompleteResponse = &llm.CompletionResponse{Content: "Nice to meet you!"}
	conn, ctx := dialSpeech(t, env)

	sendFrame(t, ctx, conn, map[string]any{"type": "init", "voice": false})
	if f := readFrame(t, ctx, conn); f.Type != "session" {
		t.Fatalf("frame type = %q, want session", f.Type)
	}

	sendFrame(t, ctx, conn, map[string]any{"type": "text", "text": "hello there"})

	// Engagement typing frames may interleave, so collect until the
	// assistant reply arrives.
	var messages []types.Message
	for len(messages) < 2 {
		f := readFrame(t, ctx, conn)
		if f.Type == "message" && f.Message != nil {
			messages = append(messages, *f.Message)
		}
	}

	if messages[0].Role != "user" || messages[0].Content != "hello there" {
		t.Errorf("first message = %+v, want the user turn", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Content != "Nice to meet you!" {
		t.Errorf("second message = %+v, want the assistant reply", messages[1])
	}
}

func TestSpeech_VoiceTurnSubmitsOnStopListen(t *testing.T) {
	env := newTestEnv(t)
	env.llm.CompleteResponse = &llm.CompletionResponse{Content: "Heard you!"}
	conn, ctx := dialSpeech(t, env)

	sendFrame(t, ctx, conn, map[string]any{"type": "init", "voice": true})
	if f := readFrame(t, ctx, conn); f.Type != "session" {
		t.Fatalf("frame type = %q, want session", f.Type)
	}

	sendFrame(t, ctx, conn, map[string]any{"type": "listen"})

	// The recognizer start control frame confirms capture is live.
	for {
		if f := readFrame(t, ctx, conn); f.Type == "start" {
			break
		}
	}

	sendFrame(t, ctx, conn, map[string]any{
		"type": "result", "index": 0,
		"segments": []map[string]any{{"text": "hello from voice", "final": true}},
	})
	for {
		f := readFrame(t, ctx, conn)
		if f.Type == "live" && f.Text == "hello from voice" {
			break
		}
	}

	// Stopping must submit the transcript even though the browser's
	// "end" confirmation only arrives afterwards.
	sendFrame(t, ctx, conn, map[string]any{"type": "stopListen"})
	sendFrame(t, ctx, conn, map[string]any{"type": "end"})

	var messages []types.Message
	for len(messages) < 2 {
		f := readFrame(t, ctx, conn)
		if f.Type == "message" && f.Message != nil {
			messages = append(messages, *f.Message)
		}
	}
	if messages[0].Role != "user" || messages[0].Content != "hello from voice" {
		t.Errorf("first message = %+v, want the spoken turn", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Content != "Heard you!" {
		t.Errorf("second message = %+v, want the assistant reply", messages[1])
	}

	// The session keeps serving turns after the stop handshake.
	sendFrame(t, ctx, conn, map[string]any{"type": "text", "text": "and typed too"})
	for {
		f := readFrame(t, ctx, conn)
		if f.Type == "message" && f.Message != nil && f.Message.Content == "and typed too" {
			break
		}
	}
}

func TestSpeech_InvalidEmailReportsError(t *testing.T) {
	env := newTestEnv(t)
	conn, ctx := dialSpeech(t, env)

	sendFrame(t, ctx, conn, map[string]any{"type": "init"})
	if f := readFrame(t, ctx, conn); f.Type != "session" {
		t.Fatalf("frame type = %q, want session", f.Type)
	}

	sendFrame(t, ctx, conn, map[string]any{"type": "email", "email": "not-an-email"})

	f := readFrame(t, ctx, conn)
	if f.Type != "error" {
		t.Fatalf("frame type = %q, want error", f.Type)
	}
	if !strings.Contains(f.Text, "valid email") {
		t.Errorf("error text = %q, want a valid-email message", f.Text)
	}
	if len(env.contacts.Contacts) != 0 {
		t.Errorf("contact store holds %d contacts, want 0", len(env.contacts.Contacts))
	}
}
