package openai

import "github.com/google/uuid"

func randomID() string {
	return uuid.NewString()
}
