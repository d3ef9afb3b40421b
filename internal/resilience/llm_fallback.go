package resilience

import (
	"context"

	"github.com/jjrasche/voice-chat-app/pkg/provider/llm"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// LLMChain implements [llm.Provider] by failing over across several completion
// backends. Each backend carries its own [Breaker]; when the primary is down
// or tripped, the next healthy fallback serves the request.
type LLMChain struct {
	chain *Chain[llm.Provider]
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain creates an [LLMChain] with primary as the preferred backend.
func NewLLMChain(name string, primary llm.Provider, cfg ChainConfig) *LLMChain {
	return &LLMChain{chain: NewChain(name, primary, cfg)}
}

// Add registers an additional provider as a fallback.
func (f *LLMChain) Add(name string, provider llm.Provider) {
	f.chain.Add(name, provider)
}

// Names returns the backend names in try order.
func (f *LLMChain) Names() []string {
	return f.chain.Names()
}

// Complete sends req to the first healthy backend and returns its response.
func (f *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Run(f.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend's token counter.
func (f *LLMChain) CountTokens(messages []types.Message) (int, error) {
	return Run(f.chain, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}
