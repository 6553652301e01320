package capability

import (
	"github.com/google/uuid"

	"github.com/agentup/agentup/internal/a2a/types"
	"github.com/agentup/agentup/internal/state"
)

// HandlerFunc is the wrapped, middleware-composed form of a capability's
// ExecuteCapability, matching middleware.Handler's shape without importing
// the middleware package directly (it imports capability, so the
// dependency would cycle).
type HandlerFunc func(tc TaskContext) (Result, error)

// Wrap turns a Plugin's ExecuteCapability into a bare HandlerFunc, with no
// middleware applied. Callers compose the auth/rate-limit/cache/retry/
// logging chain around this base using middleware.Chain.
func Wrap(p Plugin) HandlerFunc {
	return func(tc TaskContext) (Result, error) {
		return p.ExecuteCapability(tc)
	}
}

// WithHistory wraps base so the task's message is appended to the
// configured state.Store's history for its context before the handler
// runs, and the handler's textual result is appended after. The app
// wraps every registered capability's handler this way, whatever its
// flags.
func WithHistory(store state.Store, base HandlerFunc) HandlerFunc {
	return func(tc TaskContext) (Result, error) {
		if tc.Message != nil {
			_ = store.AppendMessage(tc.Context, tc.ContextID, tc.Message)
		}
		res, err := base(tc)
		if err == nil {
			if text, ok := res.Value.(string); ok {
				reply := &types.Message{
					MessageID: uuid.NewString(),
					Role:      types.RoleAssistant,
					Parts:     []*types.MessagePart{types.TextPart(text)},
				}
				_ = store.AppendMessage(tc.Context, tc.ContextID, reply)
			}
		}
		return res, err
	}
}
