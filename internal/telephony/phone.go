package telephony

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidPhoneNumber is returned for numbers outside the accepted formats.
var ErrInvalidPhoneNumber = errors.New("telephony: invalid phone number")

var (
	e164Re       = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
	saudiLocalRe = regexp.MustCompile(`^(?:00966|966|0)?(5\d{8})$`)
	phoneNoiseRe = regexp.MustCompile(`[\s\-().]`)
)

// NormalizePhoneNumber returns raw in E.164 form. Saudi mobile numbers are
// accepted in their local spellings (05XXXXXXXX, 5XXXXXXXX, 9665XXXXXXXX,
// 009665XXXXXXXX); anything else has to be E.164 already.
func NormalizePhoneNumber(raw string) (string, error) {
	n := phoneNoiseRe.ReplaceAllString(strings.TrimSpace(raw), "")
	if n == "" {
		return "", ErrInvalidPhoneNumber
	}

	if strings.HasPrefix(n, "+") {
		if e164Re.MatchString(n) {
			return n, nil
		}
		return "", ErrInvalidPhoneNumber
	}
	if m := saudiLocalRe.FindStringSubmatch(n); m != nil {
		return "+966" + m[1], nil
	}
	return "", ErrInvalidPhoneNumber
}
