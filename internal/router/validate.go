package router

import (
	"fmt"
	"unicode/utf8"
)

const (
	// MaxContentBytes caps the encoded size of a chat message.
	MaxContentBytes = 4096

	// MaxContentChars caps the character count of a chat message.
	MaxContentChars = 2000
)

// validateContent checks that chat message content meets size and encoding
// requirements.
func validateContent(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message content is empty")
	}
	if len(text) > MaxContentBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(text) > MaxContentChars {
		return fmt.Errorf("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
