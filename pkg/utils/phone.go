package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var phoneNumberPattern = regexp.MustCompile(`^\+\d+$`)

// Short codes used by carriers for balance and service numbers. These do
// not follow the international format but are valid senders.
var allowedShortCodes = map[string]bool{
	"4444":  true,
	"4445":  true,
	"2202":  true,
	"2020":  true,
	"20202": true,
}

// CleanupPhoneNumber validates a phone number in E.123 international
// format (or a known carrier short code) and returns it in canonical form,
// with separator spaces and dashes removed. It returns an empty string for
// anything else.
func CleanupPhoneNumber(phoneNumber string) string {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(phoneNumber)
	if phoneNumberPattern.MatchString(cleaned) {
		return cleaned
	}
	if allowedShortCodes[cleaned] {
		return cleaned
	}
	return ""
}

// Hexdump formats raw bytes as a classic hex dump, 16 bytes per line. Used
// for debug logging of USSD responses.
func Hexdump(src []byte) string {
	const width = 16
	var b strings.Builder
	for offset := 0; offset < len(src); offset += width {
		end := offset + width
		if end > len(src) {
			end = len(src)
		}
		chunk := src[offset:end]

		var hexPart, printable strings.Builder
		for _, c := range chunk {
			fmt.Fprintf(&hexPart, "%02x ", c)
			if c >= 0x20 && c <= 0x7e {
				printable.WriteByte(c)
			} else {
				printable.WriteByte('.')
			}
		}
		fmt.Fprintf(&b, "%04x  %-*s  %s\n", offset, width*3, hexPart.String(), printable.String())
	}
	return b.String()
}
