package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/jjrasche/voice-chat-app/internal/chat"
	"github.com/jjrasche/voice-chat-app/internal/clientstate"
	"github.com/jjrasche/voice-chat-app/internal/docs"
	"github.com/jjrasche/voice-chat-app/internal/observe"
	"github.com/jjrasche/voice-chat-app/internal/session"
	storemock "github.com/jjrasche/voice-chat-app/internal/store/mock"
	"github.com/jjrasche/voice-chat-app/pkg/capture"
	capmock "github.com/jjrasche/voice-chat-app/pkg/capture/mock"
	"github.com/jjrasche/voice-chat-app/pkg/provider/llm"
	llmmock "github.com/jjrasche/voice-chat-app/pkg/provider/llm/mock"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// eventRecorder is a thread-safe Listener for tests.
type eventRecorder struct {
	mu         sync.Mutex
	typing     []bool
	msgs       []types.Message
	live       []string
	countdowns []time.Duration
	unlocks    []string
	notices    []string
	offers     []string
	states     []session.CaptureState
	causes     []error
}

func (r *eventRecorder) Typing(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, active)
}

func (r *eventRecorder) Message(msg types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *eventRecorder) LiveTranscript(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = append(r.live, text)
}

func (r *eventRecorder) CountdownStarted(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countdowns = append(r.countdowns, d)
}

func (r *eventRecorder) DocUnlocked(doc types.Document, notice string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unlocks = append(r.unlocks, doc.Name)
	r.notices = append(r.notices, notice)
}

func (r *eventRecorder) EmailOffer(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, text)
}

func (r *eventRecorder) CaptureStateChanged(st session.CaptureState, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
	r.causes = append(r.causes, cause)
}

func (r *eventRecorder) messages() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *eventRecorder) liveTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.live))
	copy(out, r.live)
	return out
}

func (r *eventRecorder) unlockedDocs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.unlocks))
	copy(out, r.unlocks)
	return out
}

func (r *eventRecorder) emailOffers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.offers))
	copy(out, r.offers)
	return out
}

func (r *eventRecorder) captureStates() []session.CaptureState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.CaptureState, len(r.states))
	copy(out, r.states)
	return out
}

func (r *eventRecorder) lastCause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.causes) == 0 {
		return nil
	}
	return r.causes[len(r.causes)-1]
}

// fixture bundles a controller with its collaborators.
type fixture struct {
	ctrl     *session.Controller
	rec      *eventRecorder
	conv     *storemock.ConversationStore
	contacts *storemock.ContactStore
	states   *clientstate.FileStore
	lib      *docs.Library
}

func newFixture(t *testing.T, cfg session.Config, p *llmmock.Provider, capt capture.Provider) *fixture {
	t.Helper()

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	lib, err := docs.NewLibrary()
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	states, err := clientstate.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	f := &fixture{
		rec:      &eventRecorder{},
		conv:     &storemock.ConversationStore{},
		contacts: &storemock.ContactStore{},
		states:   states,
		lib:      lib,
	}
	f.ctrl, err = session.NewController(cfg, session.Deps{
		Capture:       capt,
		Chat:          chat.NewService(p, "mock", chat.Config{Temperature: 0.7, MaxTokens: 150}, metrics),
		Library:       lib,
		Engine:        docs.NewEngine(lib),
		Conversations: f.conv,
		Contacts:      f.contacts,
		States:        states,
		Listener:      f.rec,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(f.ctrl.Close)
	return f
}

func TestController_SubmitTextTurn(t *testing.T) {
	t.Parallel()

	name, job := "Ada", "Engineer"
	p := &llmmock.Provider{Responses: []*llm.CompletionResponse{
		{Content: "You'd fit right into our community of builders."},
		{Content: `{"userName": "Ada", "jobTitle": "Engineer"}`},
	}}
	f := newFixture(t, session.Config{}, p, nil)

	if err := f.ctrl.SubmitText(context.Background(), "Hi, I'm Ada, an engineer"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}

	msgs := f.rec.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d listener messages, want 2", len(msgs))
	}
	if msgs[0].Role != types.RoleUser || msgs[0].Content != "Hi, I'm Ada, an engineer" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != types.RoleAssistant {
		t.Errorf("assistant message = %+v", msgs[1])
	}

	// The reply mentioned "community", a trigger keyword.
	if got := f.rec.unlockedDocs(); len(got) != 1 || got[0] != "community" {
		t.Errorf("unlocks = %v", got)
	}
	f.rec.mu.Lock()
	notice := f.rec.notices[0]
	f.rec.mu.Unlock()
	if !strings.HasPrefix(notice, "🔓 Unlocked: ") {
		t.Errorf("notice = %q", notice)
	}

	// Exchange plus extraction.
	if len(p.CompleteCalls) != 2 {
		t.Fatalf("got %d backend calls, want 2", len(p.CompleteCalls))
	}

	// Persisted with extracted identity and the grown unlock set.
	if len(f.conv.Upserts) != 1 {
		t.Fatalf("got %d upserts, want 1", len(f.conv.Upserts))
	}
	up := f.conv.Upserts[0]
	if up.ChatID != f.ctrl.ChatID() {
		t.Errorf("upsert chat id = %q", up.ChatID)
	}
	if up.UserName == nil || *up.UserName != name {
		t.Errorf("upsert user name = %v", up.UserName)
	}
	if up.JobTitle == nil || *up.JobTitle != job {
		t.Errorf("upsert job title = %v", up.JobTitle)
	}
	if up.Email != nil {
		t.Errorf("upsert email = %v, want nil to keep stored value", up.Email)
	}
	if len(up.Messages) != 2 || len(up.UnlockedDocs) != 2 {
		t.Errorf("upsert messages = %d, unlocked = %v", len(up.Messages), up.UnlockedDocs)
	}

	st, err := f.states.Load(f.ctrl.ChatID())
	if err != nil {
		t.Fatalf("Load client state: %v", err)
	}
	if st.UserName != name || len(st.ChatHistory) != 2 {
		t.Errorf("client state = %+v", st)
	}
}

func TestController_BackendFailureAppendsApology(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("backend down")}
	f := newFixture(t, session.Config{}, p, nil)

	err := f.ctrl.SubmitText(context.Background(), "hello?")
	if err == nil {
		t.Fatal("SubmitText returned nil for failing backend")
	}

	msgs := f.rec.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d listener messages, want user + apology", len(msgs))
	}
	if msgs[1].Content != "Sorry, I'm having trouble connecting right now. Please try again." {
		t.Errorf("apology = %q", msgs[1].Content)
	}
	if len(f.conv.Upserts) != 0 {
		t.Errorf("failed turn persisted %d upserts", len(f.conv.Upserts))
	}

	// The next turn succeeds and carries the apology in history.
	p.CompleteErr = nil
	p.CompleteResponse = &llm.CompletionResponse{Content: "back now"}
	if err := f.ctrl.SubmitText(context.Background(), "still there?"); err != nil {
		t.Fatalf("SubmitText after recovery: %v", err)
	}
	if got := len(f.rec.messages()); got != 4 {
		t.Errorf("got %d listener messages after recovery, want 4", got)
	}
}

func TestController_ExtractionFillsOnlyMissing(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Responses: []*llm.CompletionResponse{
		{Content: "nice to meet you"},
		{Content: `{"userName": "Imposter", "jobTitle": "Welder"}`},
	}}
	f := newFixture(t, session.Config{}, p, nil)
	f.ctrl.Restore(clientstate.State{ChatID: "restored-1", UserName: "Ada"})

	if err := f.ctrl.SubmitText(context.Background(), "hello"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}

	up := f.conv.Upserts[0]
	if up.UserName == nil || *up.UserName != "Ada" {
		t.Errorf("user name = %v, want restored value kept", up.UserName)
	}
	if up.JobTitle == nil || *up.JobTitle != "Welder" {
		t.Errorf("job title = %v, want extracted value", up.JobTitle)
	}
}

func TestController_ExtractionSkippedWhenIdentityKnown(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
	f := newFixture(t, session.Config{}, p, nil)
	f.ctrl.Restore(clientstate.State{ChatID: "restored-2", UserName: "Ada", JobTitle: "Engineer"})

	if err := f.ctrl.SubmitText(context.Background(), "hello"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if got := len(p.CompleteCalls); got != 1 {
		t.Errorf("got %d backend calls, want exchange only", got)
	}
}

func TestController_EmptyInputIgnored(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
	f := newFixture(t, session.Config{}, p, nil)

	if err := f.ctrl.SubmitText(context.Background(), "   "); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if got := len(p.CompleteCalls); got != 0 {
		t.Errorf("got %d backend calls for blank input", got)
	}
}

func TestController_EmailOfferOncePastThreshold(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Responses: []*llm.CompletionResponse{
		{Content: "our community loves collaboration"},
		{Content: `{"userName": null, "jobTitle": null}`},
		{Content: "the platform is open source"},
		{Content: `{"userName": null, "jobTitle": null}`},
	}}
	f := newFixture(t, session.Config{
		EmailOfferThreshold: 2,
		EmailOfferDelay:     5 * time.Millisecond,
	}, p, nil)

	if err := f.ctrl.SubmitText(context.Background(), "tell me more"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(f.rec.emailOffers()) == 1 }, "email offer")

	offer := f.rec.emailOffers()[0]
	if !strings.Contains(offer, "unlocked 2 docs") {
		t.Errorf("offer = %q", offer)
	}

	// Crossing the threshold again must not re-offer.
	if err := f.ctrl.SubmitText(context.Background(), "what else?"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := f.rec.emailOffers(); len(got) != 1 {
		t.Errorf("offers = %v, want exactly one", got)
	}
}

func TestController_SubmitEmail(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
	f := newFixture(t, session.Config{}, p, nil)

	if err := f.ctrl.SubmitEmail(context.Background(), "not-an-email"); err == nil {
		t.Fatal("invalid email accepted")
	}
	if len(f.contacts.Contacts) != 0 {
		t.Fatalf("invalid email stored: %v", f.contacts.Contacts)
	}

	if err := f.ctrl.SubmitEmail(context.Background(), "ada@example.com"); err != nil {
		t.Fatalf("SubmitEmail: %v", err)
	}
	if len(f.contacts.Contacts) != 1 {
		t.Fatalf("got %d contacts, want 1", len(f.contacts.Contacts))
	}
	c := f.contacts.Contacts[0]
	if c.Email != "ada@example.com" || c.ChatID != f.ctrl.ChatID() {
		t.Errorf("contact = %+v", c)
	}

	// The email also lands on the persisted conversation.
	if len(f.conv.Upserts) != 1 {
		t.Fatalf("got %d upserts, want 1", len(f.conv.Upserts))
	}
	if up := f.conv.Upserts[0]; up.Email == nil || *up.Email != "ada@example.com" {
		t.Errorf("upsert email = %v", up.Email)
	}
}

func TestController_CaptureRestartAndStopSubmits(t *testing.T) {
	t.Parallel()

	sess1 := capmock.NewSession()
	sess2 := capmock.NewSession()
	prov := &capmock.Provider{Sessions: []*capmock.Session{sess1, sess2}}
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "heard you"}}
	f := newFixture(t, session.Config{RestartBackoff: time.Millisecond}, p, prov)

	if err := f.ctrl.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		states := f.rec.captureStates()
		return len(states) >= 2 && states[len(states)-1] == session.Capturing
	}, "capturing state")

	if err := f.ctrl.StartCapture(context.Background()); !errors.Is(err, session.ErrCaptureActive) {
		t.Errorf("second StartCapture error = %v", err)
	}

	sess1.Emit(capture.ResultEvent{Index: 0, Segments: []capture.Segment{final("hello ")}})
	waitFor(t, time.Second, func() bool { return len(f.rec.liveTexts()) == 1 }, "live transcript")

	// A spontaneous session end restarts capture transparently.
	sess1.End(nil)
	waitFor(t, time.Second, func() bool { return prov.Starts() == 2 }, "restart")

	sess2.Emit(capture.ResultEvent{Index: 0, Segments: []capture.Segment{final("world")}})
	waitFor(t, time.Second, func() bool {
		live := f.rec.liveTexts()
		return len(live) > 0 && live[len(live)-1] == "hello world"
	}, "accumulated transcript")

	f.ctrl.StopCapture(context.Background())

	msgs := f.rec.messages()
	if len(msgs) != 2 || msgs[0].Content != "hello world" {
		t.Fatalf("messages after stop = %+v", msgs)
	}
	states := f.rec.captureStates()
	if states[len(states)-1] != session.CaptureStopped {
		t.Errorf("final capture state = %v", states[len(states)-1])
	}
}

func TestController_FatalCaptureErrorStops(t *testing.T) {
	t.Parallel()

	sess := capmock.NewSession()
	prov := &capmock.Provider{Sessions: []*capmock.Session{sess}}
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "heard you"}}
	f := newFixture(t, session.Config{RestartBackoff: time.Millisecond}, p, prov)

	if err := f.ctrl.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, time.Second, func() bool { return prov.Starts() == 1 }, "first session")

	sess.Emit(capture.ResultEvent{Index: 0, Segments: []capture.Segment{final("before it died")}})
	waitFor(t, time.Second, func() bool { return len(f.rec.liveTexts()) == 1 }, "live transcript")

	sess.End(capture.ErrPermissionDenied)
	waitFor(t, time.Second, func() bool {
		states := f.rec.captureStates()
		return len(states) > 0 && states[len(states)-1] == session.CaptureStopped
	}, "stopped state")

	if prov.Starts() != 1 {
		t.Errorf("fatal error restarted capture: %d starts", prov.Starts())
	}
	if cause := f.rec.lastCause(); !errors.Is(cause, capture.ErrPermissionDenied) {
		t.Errorf("stop cause = %v", cause)
	}

	// Whatever accumulated before the failure still submits.
	waitFor(t, time.Second, func() bool { return len(f.rec.messages()) == 2 }, "turn after failure")
	if msgs := f.rec.messages(); msgs[0].Content != "before it died" {
		t.Errorf("submitted transcript = %q", msgs[0].Content)
	}
}

func TestController_RestartBudgetExhausted(t *testing.T) {
	t.Parallel()

	sessions := make([]*capmock.Session, 3)
	for i := range sessions {
		sessions[i] = capmock.NewSession()
	}
	prov := &capmock.Provider{Sessions: sessions}
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
	f := newFixture(t, session.Config{
		MaxRestarts:    2,
		RestartBackoff: time.Millisecond,
	}, p, prov)

	if err := f.ctrl.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	for i, s := range sessions {
		waitFor(t, time.Second, func() bool { return prov.Starts() == i+1 }, "session start")
		s.End(capture.ErrAborted)
	}

	waitFor(t, time.Second, func() bool {
		states := f.rec.captureStates()
		return len(states) > 0 && states[len(states)-1] == session.CaptureStopped
	}, "stopped after budget")
	if got := prov.Starts(); got != 3 {
		t.Errorf("got %d session starts, want initial + 2 restarts", got)
	}
}

func TestController_AutoSubmitOnPause(t *testing.T) {
	t.Parallel()

	sess := capmock.NewSession()
	prov := &capmock.Provider{Sessions: []*capmock.Session{sess}}
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "got it"}}
	f := newFixture(t, session.Config{
		AutoSubmit:       true,
		SilenceThreshold: 10 * time.Millisecond,
		Countdown:        10 * time.Millisecond,
	}, p, prov)

	if err := f.ctrl.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, time.Second, func() bool { return prov.Starts() == 1 }, "session start")

	sess.Emit(capture.ResultEvent{Index: 0, Segments: []capture.Segment{final("submit me")}})

	// Silence runs the countdown down and the turn submits by itself.
	waitFor(t, 2*time.Second, func() bool { return len(f.rec.messages()) == 2 }, "auto-submitted turn")

	f.rec.mu.Lock()
	countdowns := len(f.rec.countdowns)
	f.rec.mu.Unlock()
	if countdowns == 0 {
		t.Error("countdown never signaled")
	}
	if msgs := f.rec.messages(); msgs[0].Content != "submit me" {
		t.Errorf("submitted transcript = %q", msgs[0].Content)
	}
	states := f.rec.captureStates()
	if states[len(states)-1] != session.CaptureStopped {
		t.Errorf("capture still running after auto-submit: %v", states)
	}
}

func TestController_Reset(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Responses: []*llm.CompletionResponse{
		{Content: "hello"},
		{Content: `{"userName": null, "jobTitle": null}`},
	}}
	f := newFixture(t, session.Config{
		EngagementSteps: []session.EngagementStep{{Delay: time.Hour, Message: "never"}},
	}, p, nil)

	if err := f.ctrl.SubmitText(context.Background(), "hi"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	oldID := f.ctrl.ChatID()
	if _, err := f.states.Load(oldID); err != nil {
		t.Fatalf("state not saved before reset: %v", err)
	}

	if err := f.ctrl.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if f.ctrl.ChatID() == oldID {
		t.Error("Reset kept the old chat ID")
	}
	snap := f.ctrl.Snapshot()
	if len(snap.ChatHistory) != 0 {
		t.Errorf("history survived reset: %d messages", len(snap.ChatHistory))
	}
	if len(snap.UnlockedDocs) != 1 || snap.UnlockedDocs[0] != "beliefs" {
		t.Errorf("unlocked docs after reset = %v", snap.UnlockedDocs)
	}

	// The cleared state file loads as a fresh session.
	st, err := f.states.Load(oldID)
	if err != nil {
		t.Fatalf("Load after clear: %v", err)
	}
	if len(st.ChatHistory) != 0 {
		t.Errorf("cleared state still has history: %+v", st)
	}
}

func TestController_EngagementCancelledByInput(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
	f := newFixture(t, session.Config{
		EngagementSteps: []session.EngagementStep{
			{Delay: 5 * time.Millisecond, Message: "welcome"},
			{Delay: time.Hour, Message: "never"},
		},
	}, p, nil)

	f.ctrl.Start()
	waitFor(t, time.Second, func() bool { return len(f.rec.messages()) == 1 }, "engagement greeting")

	if err := f.ctrl.SubmitText(context.Background(), "hello"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}

	// Greeting, user turn, reply. The second engagement step never runs.
	msgs := f.rec.messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages: %+v", len(msgs), msgs)
	}
	if msgs[0].Content != "welcome" || msgs[0].Role != types.RoleAssistant {
		t.Errorf("greeting = %+v", msgs[0])
	}
}

func TestController_StartSkippedForRestoredHistory(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
	f := newFixture(t, session.Config{
		EngagementSteps: []session.EngagementStep{{Delay: time.Millisecond, Message: "welcome"}},
	}, p, nil)
	f.ctrl.Restore(clientstate.State{
		ChatID:      "restored-3",
		ChatHistory: []types.Message{{Role: types.RoleUser, Content: "earlier"}},
	})

	f.ctrl.Start()
	time.Sleep(20 * time.Millisecond)
	if got := f.rec.messages(); len(got) != 0 {
		t.Errorf("engagement ran for restored session: %+v", got)
	}
}
