package session

import (
	"sync"
	"time"
)

// Introductory messages sent by the progressive engagement script.
const (
	engageGreeting    = "Hi! I'm building AI-native tools to give people 10x capability. What's your name?"
	engageJobQuestion = "What do you do for work? I'm curious where AI can help you most."

	engageVoiceHint = "Just press and hold the microphone to start talking 🎤"
	engageTextHint  = "Type your thoughts in the box below and hit send 💬"
)

// EngagementStep is one step of the engagement script: wait Delay, then
// either raise the typing indicator (empty Message) or deliver Message
// and clear the indicator.
type EngagementStep struct {
	Delay   time.Duration
	Message string
}

// EngagementScript returns the default timed introduction. Voice-capable
// clients get a microphone hint as the closer, others a text-input hint.
func EngagementScript(voiceCapable bool) []EngagementStep {
	hint := engageTextHint
	if voiceCapable {
		hint = engageVoiceHint
	}
	return []EngagementStep{
		{Delay: 1 * time.Second},
		{Delay: 1 * time.Second, Message: engageGreeting},
		{Delay: 10 * time.Second},
		{Delay: 2 * time.Second, Message: engageJobQuestion},
		{Delay: 10 * time.Second},
		{Delay: 2 * time.Second, Message: hint},
	}
}

// Engagement runs an engagement script on its own goroutine, emitting
// typing-indicator toggles and messages through the given callbacks.
// Stop cancels the remainder; a stopped script never resumes.
type Engagement struct {
	steps   []EngagementStep
	typing  func(active bool)
	message func(text string)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngagement creates an Engagement. Nil callbacks are replaced with
// no-ops.
func NewEngagement(steps []EngagementStep, typing func(bool), message func(string)) *Engagement {
	if typing == nil {
		typing = func(bool) {}
	}
	if message == nil {
		message = func(string) {}
	}
	return &Engagement{
		steps:   steps,
		typing:  typing,
		message: message,
		done:    make(chan struct{}),
	}
}

// Start launches the script goroutine. Call at most once.
func (e *Engagement) Start() {
	e.wg.Add(1)
	go e.run()
}

// Stop cancels any remaining steps and clears the typing indicator. It
// blocks until the script goroutine has exited. Safe to call more than
// once and before Start.
func (e *Engagement) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}

func (e *Engagement) run() {
	defer e.wg.Done()
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	for _, step := range e.steps {
		timer.Reset(step.Delay)
		select {
		case <-timer.C:
		case <-e.done:
			timer.Stop()
			e.typing(false)
			return
		}
		if step.Message == "" {
			e.typing(true)
			continue
		}
		e.typing(false)
		e.message(step.Message)
	}
}
