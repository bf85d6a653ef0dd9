package dispatch

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone parses raw in the context of region (ISO 3166 alpha-2, used
// when raw has no country code) and returns it in E.164 form.
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", domain.ErrInvalidPhone)
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", domain.ErrInvalidPhone, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidPhone, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
