package anthropic

import "github.com/google/uuid"

// randomID is used wherever upstream omits an id the caller-facing response
// still needs (a response id, a synthesized tool_use id).
func randomID() string {
	return uuid.NewString()
}
