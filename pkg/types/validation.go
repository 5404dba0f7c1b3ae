package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxContentLength bounds a single message, in runes.
	MaxContentLength = 2000
	// MaxBioLength bounds a profile bio, in runes.
	MaxBioLength = 500
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	auraRegex     = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,30}$`)
)

// ValidateUsername checks the account naming rule.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateAura checks an aura identifier. Empty means "use the default" and is accepted.
func ValidateAura(aura string) error {
	if aura == "" {
		return nil
	}
	if !auraRegex.MatchString(aura) {
		return ErrInvalidAura
	}
	return nil
}

// ValidateContent rejects blank and oversized messages.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLarge
	}
	return nil
}

// ValidateBio bounds a profile bio. Empty clears it.
func ValidateBio(bio string) error {
	if utf8.RuneCountInString(bio) > MaxBioLength {
		return ErrBioTooLarge
	}
	return nil
}
