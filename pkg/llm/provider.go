// Package llm defines the model-invocation surface the session store
// consumes. Concrete API clients live outside this module; the store only
// needs a way to turn an ordered sequence of messages into one reply.
package llm

import (
	"context"

	"github.com/shenning00/claude-lang-chat/pkg/types"
)

// Provider is the interface a model integration must satisfy.
//
// The session layer is responsible for conversation state: it builds the
// message sequence, hands it to the provider, and persists the returned
// reply. Providers stay focused on API communication, which keeps them
// testable independently of session logic.
type Provider interface {
	// Complete sends messages to the model and returns the full response.
	//
	// Returns the assistant's reply or an error. Implementations should
	// honor ctx cancellation.
	Complete(ctx context.Context, messages []types.ChatEntry) (string, error)

	// Model returns the model identifier this provider targets.
	Model() string
}
