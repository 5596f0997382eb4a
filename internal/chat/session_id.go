package chat

import "github.com/suPer8Hu/assistant-gateway/internal/common"

// NewSessionID returns a 26 character ULID.
func NewSessionID() (string, error) {
	return common.NewULID()
}
