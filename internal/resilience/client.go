package resilience

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"guardian-trader/internal/reasoner"
)

// GuardedClient is a reasoner.LLMClient behind a circuit breaker. While the
// circuit is open calls fail fast with ErrCircuitOpen.
type GuardedClient struct {
	client  reasoner.LLMClient
	breaker *CircuitBreaker
}

// Guard wraps client with breaker.
func Guard(client reasoner.LLMClient, breaker *CircuitBreaker) *GuardedClient {
	return &GuardedClient{client: client, breaker: breaker}
}

// Complete forwards to the wrapped client while the circuit allows it.
func (g *GuardedClient) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, jsonMode bool) (openai.ChatCompletionMessage, error) {
	var reply openai.ChatCompletionMessage
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		reply, err = g.client.Complete(ctx, messages, tools, jsonMode)
		return err
	})
	return reply, err
}
