package validation

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"msgflow/internal/errors"
	"msgflow/internal/models"
)

const (
	minPhoneDigits     = 7
	maxPhoneDigits     = 20
	maxChatAddressLen  = 256
	maxTemplateNameLen = 128
)

// ValidateDestination checks a destination address for the given channel.
// SMS destinations are E.164-style phone numbers; chat destinations are
// provider addresses of the form local@domain.
func ValidateDestination(channel models.Channel, destination string) error {
	if destination == "" {
		return errors.New(errors.ErrCodeMissingDestination, "destination cannot be empty")
	}

	switch channel {
	case models.ChannelSMS:
		return validatePhoneNumber(destination)
	case models.ChannelChat:
		return validateChatAddress(destination)
	}
	return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown channel %q", channel))
}

func validatePhoneNumber(phone string) error {
	cleaned := strings.TrimPrefix(phone, "+")
	if len(cleaned) < minPhoneDigits {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number must be at least %d digits", minPhoneDigits))
	}
	if len(cleaned) > maxPhoneDigits {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number too long (max %d digits)", maxPhoneDigits))
	}
	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeInvalidInput, "phone number must contain only digits")
		}
	}
	return nil
}

func validateChatAddress(address string) error {
	if len(address) > maxChatAddressLen {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("chat address too long (max %d characters)", maxChatAddressLen))
	}
	local, _, found := strings.Cut(address, "@")
	if !found || local == "" {
		return errors.New(errors.ErrCodeInvalidInput, "chat address must be of the form local@domain")
	}
	for _, char := range address {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' || char == ' ' {
			return errors.New(errors.ErrCodeInvalidInput, "chat address contains invalid characters")
		}
	}
	return nil
}

// ValidateTemplateName checks the template name used both locally and in
// provider submissions.
func ValidateTemplateName(name string) error {
	if name == "" {
		return errors.New(errors.ErrCodeInvalidInput, "template name cannot be empty")
	}
	if len(name) > maxTemplateNameLen {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("template name too long (max %d characters)", maxTemplateNameLen))
	}
	for _, char := range name {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.New(errors.ErrCodeInvalidInput,
				"template name must contain only letters, numbers, underscores, and dashes")
		}
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}
	if len(value) > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}
	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}
	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}
	return nil
}
