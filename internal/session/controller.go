package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jjrasche/voice-chat-app/internal/chat"
	"github.com/jjrasche/voice-chat-app/internal/clientstate"
	"github.com/jjrasche/voice-chat-app/internal/docs"
	"github.com/jjrasche/voice-chat-app/internal/observe"
	"github.com/jjrasche/voice-chat-app/internal/store"
	"github.com/jjrasche/voice-chat-app/pkg/capture"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// Controller errors.
var (
	// ErrCaptureActive is returned when an operation requires capture to
	// be stopped but a capture run is in progress.
	ErrCaptureActive = errors.New("session: capture already active")

	// ErrExchangeInFlight is returned when an operation cannot start
	// because a conversation turn is still being exchanged.
	ErrExchangeInFlight = errors.New("session: exchange in flight")

	// ErrCaptureUnavailable is returned by StartCapture when no capture
	// provider is configured.
	ErrCaptureUnavailable = errors.New("session: no capture provider configured")
)

// connectTrouble is the assistant message shown when the completion
// backend fails mid-turn.
const connectTrouble = "Sorry, I'm having trouble connecting right now. Please try again."

// CaptureState describes the speech capture lifecycle.
type CaptureState int

// Capture states.
const (
	CaptureStopped CaptureState = iota
	CaptureStarting
	Capturing
)

// String implements fmt.Stringer.
func (s CaptureState) String() string {
	switch s {
	case CaptureStopped:
		return "stopped"
	case CaptureStarting:
		return "starting"
	case Capturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// Listener receives user-visible events from a Controller. Methods are
// called from controller and timer goroutines; implementations must be
// safe for concurrent use and must not block.
type Listener interface {
	// Typing toggles the assistant typing indicator.
	Typing(active bool)

	// Message delivers a finished conversation message.
	Message(msg types.Message)

	// LiveTranscript delivers the current in-progress transcript.
	LiveTranscript(text string)

	// CountdownStarted signals that the pause countdown began.
	CountdownStarted(d time.Duration)

	// DocUnlocked signals a newly unlocked document with its
	// notification text.
	DocUnlocked(doc types.Document, notice string)

	// EmailOffer delivers the email-capture prompt.
	EmailOffer(text string)

	// CaptureStateChanged signals a capture lifecycle transition. cause
	// is non-nil when the transition was forced by a capture error.
	CaptureStateChanged(st CaptureState, cause error)
}

// NopListener is a Listener that ignores every event. Embed it to
// implement only the events a caller cares about.
type NopListener struct{}

func (NopListener) Typing(bool) {}
func (NopListener) Message(types.Message) {}
func (NopListener) LiveTranscript(string) {}
func (NopListener) CountdownStarted(time.Duration) {}
func (NopListener) DocUnlocked(types.Document, string) {}
func (NopListener) EmailOffer(string) {}
func (NopListener) CaptureStateChanged(CaptureState, error) {}


var _ Listener = NopListener{}

// Config holds the controller's tuning knobs.
type Config struct {
	// SilenceThreshold and Countdown configure the pause detector.
	SilenceThreshold time.Duration
	Countdown        time.Duration

	// AutoSubmit enables submit-on-pause. When false the visitor must
	// stop capture explicitly to submit.
	AutoSubmit bool

	// MaxRestarts bounds capture auto-restarts per capture run.
	MaxRestarts int

	// RestartBackoff is the wait between a transient capture end and the
	// restart.
	RestartBackoff time.Duration

	// EmailOfferThreshold is the unlocked-doc count that triggers the
	// email-capture prompt.
	EmailOfferThreshold int

	// EmailOfferDelay is how long after the qualifying unlock the prompt
	// appears, so the unlock notification lands first.
	EmailOfferDelay time.Duration

	// VoiceCapable selects the engagement script variant.
	VoiceCapable bool

	// EngagementSteps overrides the engagement script. Nil selects
	// [EngagementScript] for the VoiceCapable setting.
	EngagementSteps []EngagementStep

	// Language is the recognition language hint passed to the capture
	// provider.
	Language string
}

func (c *Config) applyDefaults() {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 1500 * time.Millisecond
	}
	if c.Countdown <= 0 {
		c.Countdown = 3 * time.Second
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 50
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = 100 * time.Millisecond
	}
	if c.EmailOfferThreshold <= 0 {
		c.EmailOfferThreshold = 3
	}
	if c.EmailOfferDelay <= 0 {
		c.EmailOfferDelay = 2 * time.Second
	}
	if c.EngagementSteps == nil {
		c.EngagementSteps = EngagementScript(c.VoiceCapable)
	}
}

// Deps are the controller's collaborators. Chat, Library, and Engine are
// required. Capture is optional for text-only clients; the stores and
// the state file store are optional and skipped when nil.
type Deps struct {
	Capture       capture.Provider
	Chat          *chat.Service
	Library       *docs.Library
	Engine        *docs.Engine
	Conversations store.ConversationStore
	Contacts      store.ContactStore
	States        *clientstate.FileStore
	Listener      Listener
	Metrics       *observe.Metrics
	Logger        *slog.Logger
}

// Controller drives one visitor's session: it owns the Session entity,
// the speech capture lifecycle with bounded auto-restart, the pause
// detector, the progressive engagement script, and the turn sequence
// that exchanges with the completion backend, evaluates unlocks, and
// persists the conversation.
//
// All session mutations happen under the controller's mutex. At most one
// turn is in flight at a time, and capture cannot start while a turn is
// exchanging.
type Controller struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	session  *Session
	acc      *Accumulator
	detector *Detector
	engage   *Engagement
	capState CaptureState
	handle   capture.SessionHandle
	intent   bool
	restarts int
	metered  bool
	exchange bool
	gen      uint64
	closed   bool
	loopDone chan struct{}
}

// NewController creates a controller with a fresh session. Call Start to
// run the engagement script, and Close when the client disconnects.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	if deps.Chat == nil {
		return nil, errors.New("session: chat service is required")
	}
	if deps.Library == nil {
		return nil, errors.New("session: document library is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("session: unlock engine is required")
	}
	if deps.Listener == nil {
		deps.Listener = NopListener{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.applyDefaults()

	c := &Controller{
		cfg:     cfg,
		deps:    deps,
		session: NewSession(deps.Library),
		acc:     NewAccumulator(),
	}
	c.detector = NewDetector(DetectorConfig{
		SilenceThreshold: cfg.SilenceThreshold,
		Countdown:        cfg.Countdown,
		OnCountdownStart: deps.Listener.CountdownStarted,
		OnComplete:       c.pauseComplete,
	})
	deps.Metrics.ActiveSessions.Add(context.Background(), 1)
	return c, nil
}

// Restore replaces the fresh session with one rebuilt from saved client
// state. Call before Start. A restored history suppresses the engagement
// script.
func (c *Controller) Restore(st clientstate.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = RestoreSession(c.deps.Library, st)
}

// ChatID returns the session token.
func (c *Controller) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ChatID
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() clientstate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.session.State()
	st.ChatHistory = slices.Clone(st.ChatHistory)
	return st
}

// Start launches the progressive engagement script, unless the session
// already has history (a restored conversation is past introductions).
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.session.Messages) > 0 || c.engage != nil {
		return
	}
	c.startEngagementLocked()
}

// startEngagementLocked creates and starts the engagement script.
// Callers hold c.mu.
func (c *Controller) startEngagementLocked() {
	lst := c.deps.Listener
	eng := NewEngagement(c.cfg.EngagementSteps, lst.Typing, func(text string) {
		c.mu.Lock()
		msg := c.session.AppendAssistant(text)
		c.mu.Unlock()
		lst.Message(msg)
	})
	c.engage = eng
	eng.Start()
}

// stopEngagementLocked cancels any running engagement script. Callers
// hold c.mu; the lock is released around the blocking Stop.
func (c *Controller) stopEngagementLocked() {
	eng := c.engage
	if eng == nil {
		return
	}
	c.engage = nil
	c.mu.Unlock()
	eng.Stop()
	c.mu.Lock()
}

// StartCapture begins a capture run. Any user input cancels the
// engagement script, so starting capture does too. Returns
// ErrExchangeInFlight while a turn is running and ErrCaptureActive when
// a run is already open.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.deps.Capture == nil {
		c.mu.Unlock()
		return ErrCaptureUnavailable
	}
	if c.exchange {
		c.mu.Unlock()
		return ErrExchangeInFlight
	}
	if c.capState != CaptureStopped {
		c.mu.Unlock()
		return ErrCaptureActive
	}
	c.stopEngagementLocked()
	c.intent = true
	c.restarts = 0
	c.capState = CaptureStarting
	c.detector.Reset()
	done := make(chan struct{})
	c.loopDone = done
	c.mu.Unlock()

	c.deps.Listener.CaptureStateChanged(CaptureStarting, nil)
	go c.captureLoop(ctx, done)
	return nil
}

// captureLoop opens recognizer sessions until the listening intent is
// withdrawn, restarting transient terminations with backoff up to the
// configured budget.
func (c *Controller) captureLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		c.mu.Lock()
		if !c.intent {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		handle, err := c.deps.Capture.Start(ctx, capture.Config{
			Language:       c.cfg.Language,
			InterimResults: true,
		})
		if err != nil {
			c.captureFailed(ctx, fmt.Errorf("session: start capture: %w", err))
			return
		}

		c.mu.Lock()
		if !c.intent {
			c.mu.Unlock()
			handle.Close()
			return
		}
		c.handle = handle
		c.acc.Rebase()
		if c.capState != Capturing {
			c.capState = Capturing
			c.metered = true
			c.deps.Metrics.ActiveCaptures.Add(ctx, 1)
			c.mu.Unlock()
			c.deps.Listener.CaptureStateChanged(Capturing, nil)
		} else {
			c.mu.Unlock()
		}

		for ev := range handle.Results() {
			live, _ := c.acc.Ingest(ev)
			c.deps.Listener.LiveTranscript(live)
			if c.cfg.AutoSubmit {
				c.detector.Activity()
			}
		}
		endErr := handle.Err()

		c.mu.Lock()
		c.handle = nil
		if !c.intent {
			c.mu.Unlock()
			return
		}
		if capture.IsTransient(endErr) && c.restarts < c.cfg.MaxRestarts {
			c.restarts++
			backoff := c.cfg.RestartBackoff
			c.mu.Unlock()
			c.deps.Metrics.CaptureRestarts.Add(ctx, 1)
			c.deps.Logger.Debug("restarting capture session",
				slog.Int("attempt", c.restarts), slog.Any("cause", endErr))
			time.Sleep(backoff)
			continue
		}
		c.mu.Unlock()
		c.captureFailed(ctx, endErr)
		return
	}
}

// captureFailed finalizes a capture run that ended on a fatal error or
// an exhausted restart budget. Whatever transcript accumulated is still
// submitted.
func (c *Controller) captureFailed(ctx context.Context, cause error) {
	c.mu.Lock()
	c.intent = false
	c.capState = CaptureStopped
	c.detector.Reset()
	c.meterCaptureStopLocked(ctx)
	c.mu.Unlock()

	if cause != nil {
		c.deps.Logger.Warn("capture stopped", slog.Any("error", cause))
	}
	c.deps.Listener.CaptureStateChanged(CaptureStopped, cause)
	if text := c.acc.Flush(); text != "" {
		c.runTurn(ctx, text)
	}
}

// pauseComplete fires when the pause countdown expires: the run stops
// and the transcript submits, the same as an explicit stop.
func (c *Controller) pauseComplete() {
	c.finishCapture(context.Background())
}

// StopCapture ends the capture run and submits the accumulated
// transcript, if any. No-op when capture is not running.
func (c *Controller) StopCapture(ctx context.Context) {
	c.finishCapture(ctx)
}

func (c *Controller) finishCapture(ctx context.Context) {
	c.mu.Lock()
	if !c.intent && c.capState == CaptureStopped {
		c.mu.Unlock()
		return
	}
	c.intent = false
	handle := c.handle
	c.handle = nil
	c.capState = CaptureStopped
	c.detector.Reset()
	c.meterCaptureStopLocked(ctx)
	done := c.loopDone
	c.mu.Unlock()

	if handle != nil {
		handle.Close()
	}
	if done != nil {
		<-done
	}
	c.deps.Listener.CaptureStateChanged(CaptureStopped, nil)
	if text := c.acc.Flush(); text != "" {
		c.runTurn(ctx, text)
	}
}

// meterCaptureStopLocked balances the active-captures gauge. Callers
// hold c.mu.
func (c *Controller) meterCaptureStopLocked(ctx context.Context) {
	if c.metered {
		c.metered = false
		c.deps.Metrics.ActiveCaptures.Add(ctx, -1)
	}
}

// SubmitText runs one turn with typed input. Empty input is ignored.
func (c *Controller) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	c.mu.Lock()
	if c.capState != CaptureStopped {
		c.mu.Unlock()
		return ErrCaptureActive
	}
	c.mu.Unlock()
	return c.runTurn(ctx, text)
}

// runTurn executes the turn sequence: append the user message, exchange
// with the completion backend over the full history and every document
// as context, append the reply, evaluate unlocks against both sides of
// the turn, offer email capture past the threshold, extract identity,
// and persist. A backend failure appends exactly one apology message and
// changes nothing else.
func (c *Controller) runTurn(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.exchange {
		c.mu.Unlock()
		return ErrExchangeInFlight
	}
	c.exchange = true
	c.stopEngagementLocked()
	userMsg := c.session.AppendUser(text)
	history := slices.Clone(c.session.Messages)
	chatID := c.session.ChatID
	unlockedBefore := c.session.UnlockedSet()
	c.mu.Unlock()

	lst := c.deps.Listener
	lst.Message(userMsg)
	lst.Typing(true)

	reply, err := c.deps.Chat.Exchange(ctx, chatID, history, c.contextDocs())
	lst.Typing(false)
	if err != nil {
		c.mu.Lock()
		apology := c.session.AppendAssistant(connectTrouble)
		c.exchange = false
		c.mu.Unlock()
		lst.Message(apology)
		c.deps.Metrics.RecordTurn(ctx, "error")
		c.deps.Logger.Warn("chat exchange failed",
			slog.String("chat_id", chatID), slog.Any("error", err))
		return err
	}

	c.mu.Lock()
	aiMsg := c.session.AppendAssistant(reply)
	c.mu.Unlock()
	lst.Message(aiMsg)

	for _, u := range c.deps.Engine.Evaluate(text+" "+reply, unlockedBefore) {
		c.mu.Lock()
		fresh := c.session.Unlock(u.Doc)
		c.mu.Unlock()
		if !fresh {
			continue
		}
		doc, derr := c.deps.Library.Get(u.Doc)
		if derr != nil {
			continue
		}
		lst.DocUnlocked(doc, "🔓 Unlocked: "+doc.Label)
		c.deps.Metrics.RecordDocUnlock(ctx, u.Doc)
	}

	c.maybeOfferEmail()
	c.maybeExtract(ctx)
	c.persist(ctx)

	c.mu.Lock()
	c.exchange = false
	c.mu.Unlock()
	c.deps.Metrics.RecordTurn(ctx, "ok")
	return nil
}

// contextDocs renders the whole library as completion context. Every
// document is always sent, unlocked or not, so the assistant can steer
// the visitor toward content they have not found yet.
func (c *Controller) contextDocs() []types.ContextDoc {
	all := c.deps.Library.List()
	out := make([]types.ContextDoc, 0, len(all))
	for _, d := range all {
		out = append(out, types.ContextDoc{Name: d.Name, Content: d.Content})
	}
	return out
}

// maybeOfferEmail emits the email-capture prompt once the unlocked-doc
// count reaches the threshold. Offered at most once per session, after a
// short delay so the unlock notification lands first.
func (c *Controller) maybeOfferEmail() {
	c.mu.Lock()
	n := len(c.session.unlockOrder)
	if c.session.EmailOffered || n < c.cfg.EmailOfferThreshold {
		c.mu.Unlock()
		return
	}
	c.session.EmailOffered = true
	gen := c.gen
	c.mu.Unlock()

	time.AfterFunc(c.cfg.EmailOfferDelay, func() {
		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}
		c.deps.Listener.EmailOffer(fmt.Sprintf(
			"🔓 I see you've unlocked %d docs! Want updates on new AI tools?", n))
	})
}

// maybeExtract runs identity extraction when at least two messages exist
// and either field is still unknown. Known fields are never overwritten
// and extraction failures are swallowed.
func (c *Controller) maybeExtract(ctx context.Context) {
	c.mu.Lock()
	needed := len(c.session.Messages) >= 2 &&
		(c.session.UserName == "" || c.session.JobTitle == "")
	history := slices.Clone(c.session.Messages)
	c.mu.Unlock()
	if !needed {
		return
	}

	ext, err := c.deps.Chat.Extract(ctx, history)
	if err != nil {
		c.deps.Logger.Debug("identity extraction failed", slog.Any("error", err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.UserName == "" && ext.UserName != nil && *ext.UserName != "" {
		c.session.UserName = *ext.UserName
	}
	if c.session.JobTitle == "" && ext.JobTitle != nil && *ext.JobTitle != "" {
		c.session.JobTitle = *ext.JobTitle
	}
}

// persist saves the conversation to the store and the session state to
// the client state file. Persistence failures are logged, never surfaced
// as turn failures.
func (c *Controller) persist(ctx context.Context) {
	c.mu.Lock()
	st := c.session.State()
	st.ChatHistory = slices.Clone(st.ChatHistory)
	c.mu.Unlock()

	if c.deps.Conversations != nil {
		_, err := c.deps.Conversations.Upsert(ctx, store.ConversationUpsert{
			ChatID:       st.ChatID,
			Email:        optional(st.UserEmail),
			UserName:     optional(st.UserName),
			JobTitle:     optional(st.JobTitle),
			Messages:     st.ChatHistory,
			UnlockedDocs: st.UnlockedDocs,
		})
		if err != nil {
			c.deps.Metrics.RecordConversationSave(ctx, "error")
			c.deps.Logger.Warn("conversation save failed",
				slog.String("chat_id", st.ChatID), slog.Any("error", err))
		} else {
			c.deps.Metrics.RecordConversationSave(ctx, "ok")
		}
	}

	if c.deps.States != nil {
		if err := c.deps.States.Save(st); err != nil {
			c.deps.Logger.Warn("client state save failed",
				slog.String("chat_id", st.ChatID), slog.Any("error", err))
		}
	}
}

// SubmitEmail records the visitor's email: it is captured as a contact
// with the conversation snapshot and persisted on the session. The email
// must contain "@".
func (c *Controller) SubmitEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return store.ErrInvalidEmail
	}

	c.mu.Lock()
	c.session.Email = email
	c.session.EmailOffered = true
	chatID := c.session.ChatID
	history := slices.Clone(c.session.Messages)
	unlocked := c.session.UnlockedDocs()
	c.mu.Unlock()

	if c.deps.Contacts != nil {
		_, err := c.deps.Contacts.Add(ctx, store.Contact{
			ChatID:       chatID,
			Email:        email,
			ChatHistory:  history,
			UnlockedDocs: unlocked,
		})
		if err != nil {
			return fmt.Errorf("session: capture contact: %w", err)
		}
		c.deps.Metrics.ContactCaptures.Add(ctx, 1)
	}

	c.persist(ctx)
	return nil
}

// Reset discards the session: capture stops without submitting, pending
// timers are invalidated, the persisted client state is cleared, a fresh
// session with a new chat ID replaces the old one, and the engagement
// script starts over.
func (c *Controller) Reset(ctx context.Context) error {
	c.discardCapture()

	c.mu.Lock()
	c.gen++
	c.stopEngagementLocked()
	oldID := c.session.ChatID
	c.session = NewSession(c.deps.Library)
	c.acc = NewAccumulator()
	c.detector.Reset()
	c.startEngagementLocked()
	c.mu.Unlock()

	if c.deps.States != nil {
		if err := c.deps.States.Clear(oldID); err != nil {
			return fmt.Errorf("session: clear state: %w", err)
		}
	}
	return nil
}

// discardCapture stops any capture run, dropping the accumulated
// transcript instead of submitting it.
func (c *Controller) discardCapture() {
	c.mu.Lock()
	if !c.intent && c.capState == CaptureStopped {
		c.mu.Unlock()
		return
	}
	c.intent = false
	handle := c.handle
	c.handle = nil
	c.capState = CaptureStopped
	c.detector.Reset()
	c.meterCaptureStopLocked(context.Background())
	done := c.loopDone
	c.mu.Unlock()

	if handle != nil {
		handle.Close()
	}
	if done != nil {
		<-done
	}
	c.acc.Flush()
	c.deps.Listener.CaptureStateChanged(CaptureStopped, nil)
}

// Close releases the controller when the client disconnects. Capture
// stops without submitting and pending timers are invalidated.
func (c *Controller) Close() {
	c.discardCapture()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.stopEngagementLocked()
	c.mu.Unlock()
	c.deps.Metrics.ActiveSessions.Add(context.Background(), -1)
}

// optional converts an empty string to nil so a store upsert keeps the
// previously saved value.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
