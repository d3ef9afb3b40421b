package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jjrasche/voice-chat-app/internal/clientstate"
	"github.com/jjrasche/voice-chat-app/internal/session"
	capturews "github.com/jjrasche/voice-chat-app/pkg/capture/ws"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// clientFrame is a command from the widget. Recognizer event frames on
// the same connection are consumed by the capture platform instead.
//
//	{"type":"init","chatId":"...","voice":true}
//	{"type":"listen"} {"type":"stopListen"}
//	{"type":"text","text":"..."}
//	{"type":"email","email":"..."}
//	{"type":"reset"}
type clientFrame struct {
	Type        string `json:"type"`
	ChatID      string `json:"chatId,omitempty"`
	Voice       bool   `json:"voice,omitempty"`
	Constrained bool   `json:"constrained,omitempty"`
	Text        string `json:"text,omitempty"`
	Email       string `json:"email,omitempty"`
}

// serverFrame is an event pushed to the widget.
type serverFrame struct {
	Type    string          `json:"type"`
	Active  bool            `json:"active,omitempty"`
	Message *types.Message  `json:"message,omitempty"`
	Text    string          `json:"text,omitempty"`
	Ms      int64           `json:"ms,omitempty"`
	Doc     *types.Document `json:"doc,omitempty"`
	Notice  string          `json:"notice,omitempty"`
	State   string          `json:"state,omitempty"`
	Cause   string          `json:"cause,omitempty"`
	Session *sessionState   `json:"session,omitempty"`
}

// sessionState is the snapshot sent after init and reset.
type sessionState struct {
	ChatID       string          `json:"chatId"`
	Messages     []types.Message `json:"messages"`
	UnlockedDocs []string        `json:"unlockedDocs"`
	ActiveDoc    string          `json:"activeDoc"`
	UserName     string          `json:"userName,omitempty"`
	JobTitle     string          `json:"jobTitle,omitempty"`
	EmailOffered bool            `json:"emailOffered,omitempty"`
}

// handleSpeech serves GET /api/speech: the whole session runs over one
// WebSocket connection. The widget sends commands and recognizer events;
// the server drives the recognizer with control frames and pushes
// conversation events back.
func handleSpeech(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			deps.Logger.Debug("speech upgrade failed", slog.Any("error", err))
			return
		}

		platform := capturews.NewPlatform(conn)
		defer platform.Close()

		lst := &wsListener{conn: conn, logger: deps.Logger}

		// The controller is built on init, once the widget has told us
		// whether the client speaks voice and how aggressive its
		// recognizer is.
		var ctrl *session.Controller
		defer func() {
			if ctrl != nil {
				ctrl.Close()
			}
		}()

		ctx := r.Context()
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				deps.Logger.Debug("speech connection closed", slog.Any("error", err))
				return
			}
			if platform.DispatchMessage(msg) {
				continue
			}

			var f clientFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			if ctrl == nil && f.Type != "init" {
				continue
			}

			switch f.Type {
			case "init":
				if ctrl != nil {
					continue
				}
				cfg := deps.Session
				cfg.VoiceCapable = f.Voice
				if f.Constrained && deps.ConstrainedCountdown > 0 {
					cfg.Countdown = deps.ConstrainedCountdown
				}
				ctrl, err = session.NewController(cfg, session.Deps{
					Capture:       platform,
					Chat:          deps.Chat,
					Library:       deps.Library,
					Engine:        deps.Engine,
					Conversations: deps.Conversations,
					Contacts:      deps.Contacts,
					States:        deps.States,
					Listener:      lst,
					Metrics:       deps.Metrics,
					Logger:        deps.Logger,
				})
				if err != nil {
					deps.Logger.Error("speech session setup failed", slog.Any("error", err))
					conn.Close(websocket.StatusInternalError, "session setup failed")
					return
				}
				if f.ChatID != "" && deps.States != nil {
					if st, err := deps.States.Load(f.ChatID); err == nil {
						ctrl.Restore(st)
					}
				}
				ctrl.Start()
				lst.sendSession(ctrl.Snapshot())
			case "listen":
				if err := ctrl.StartCapture(ctx); err != nil {
					lst.sendError(err)
				}
			case "stopListen":
				ctrl.StopCapture(ctx)
			case "text":
				if err := ctrl.SubmitText(ctx, f.Text); err != nil {
					lst.sendError(err)
				}
			case "email":
				if err := ctrl.SubmitEmail(ctx, f.Email); err != nil {
					lst.sendError(err)
				}
			case "reset":
				if err := ctrl.Reset(ctx); err != nil {
					lst.sendError(err)
				}
				lst.sendSession(ctrl.Snapshot())
			}
		}
	}
}

// wsListener pushes controller events to the widget. Writes are
// serialized; a failed write is logged and dropped, the read loop will
// notice the dead connection.
type wsListener struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *slog.Logger
}

var _ session.Listener = (*wsListener)(nil)

func (l *wsListener) send(f serverFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.conn.Write(ctx, websocket.MessageText, data); err != nil {
		l.logger.Debug("speech event write failed",
			slog.String("frame", f.Type), slog.Any("error", err))
	}
}

func (l *wsListener) sendSession(st clientstate.State) {
	l.send(serverFrame{Type: "session", Session: &sessionState{
		ChatID:       st.ChatID,
		Messages:     st.ChatHistory,
		UnlockedDocs: st.UnlockedDocs,
		ActiveDoc:    st.ActiveDoc,
		UserName:     st.UserName,
		JobTitle:     st.JobTitle,
		EmailOffered: st.EmailOffered,
	}})
}

func (l *wsListener) sendError(err error) {
	l.send(serverFrame{Type: "error", Text: err.Error()})
}

func (l *wsListener) Typing(active bool) {
	l.send(serverFrame{Type: "typing", Active: active})
}

func (l *wsListener) Message(msg types.Message) {
	l.send(serverFrame{Type: "message", Message: &msg})
}

func (l *wsListener) LiveTranscript(text string) {
	l.send(serverFrame{Type: "live", Text: text})
}

func (l *wsListener) CountdownStarted(d time.Duration) {
	l.send(serverFrame{Type: "countdown", Ms: d.Milliseconds()})
}

func (l *wsListener) DocUnlocked(doc types.Document, notice string) {
	l.send(serverFrame{Type: "unlock", Doc: &doc, Notice: notice})
}

func (l *wsListener) EmailOffer(text string) {
	l.send(serverFrame{Type: "emailOffer", Text: text})
}

func (l *wsListener) CaptureStateChanged(st session.CaptureState, cause error) {
	f := serverFrame{Type: "capture", State: st.String()}
	if cause != nil {
		f.Cause = cause.Error()
	}
	l.send(f)
}
