package utils

import (
	"regexp"
	"strings"
)

var e164Re = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// MaskPhoneNumber masks a caller number for logging.
// Example: +14155550123 -> +1415•••0123
func MaskPhoneNumber(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	if ValidateE164(phone) && len(phone) > 9 {
		head := phone[:5]
		tail := phone[len(phone)-4:]
		return head + strings.Repeat("•", len(phone)-len(head)-len(tail)) + tail
	}

	// Not E.164: mask all but the last 4 characters.
	if len(phone) > 4 {
		return strings.Repeat("•", len(phone)-4) + phone[len(phone)-4:]
	}
	return strings.Repeat("•", len(phone))
}

// ValidateE164 reports whether phone is in E.164 format.
func ValidateE164(phone string) bool {
	return e164Re.MatchString(phone)
}
