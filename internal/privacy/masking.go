package privacy

import (
	"strings"
)

// MaskDestination masks a destination address showing only the last 4
// characters. Phone numbers keep their + prefix.
// Example: "+1234567890" -> "+******7890"
func MaskDestination(destination string) string {
	if destination == "" {
		return ""
	}

	if strings.HasPrefix(destination, "+") {
		if len(destination) == 1 {
			return destination
		}
		if len(destination) <= 5 {
			return "+" + strings.Repeat("*", len(destination)-1)
		}
		return "+" + strings.Repeat("*", len(destination)-5) + destination[len(destination)-4:]
	}

	// Chat addresses keep their domain suffix visible.
	if at := strings.Index(destination, "@"); at >= 0 {
		local := destination[:at]
		domain := destination[at:]
		return maskString(local, 4) + domain
	}

	return maskString(destination, 4)
}

// MaskBody hides message content entirely, reporting only its length.
func MaskBody(body string) string {
	if body == "" {
		return ""
	}
	return strings.Repeat("*", minInt(len(body), 8))
}

// MaskProviderID masks a provider message id while preserving some
// structure for debugging.
func MaskProviderID(providerID string) string {
	if providerID == "" {
		return ""
	}
	return maskString(providerID, 6)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{})
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}
		switch k {
		case "destination", "sender", "from", "to", "remote_address", "remoteAddress":
			masked[k] = MaskDestination(s)
		case "body":
			masked[k] = MaskBody(s)
		case "provider_id", "providerId", "providerMessageId":
			masked[k] = MaskProviderID(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
