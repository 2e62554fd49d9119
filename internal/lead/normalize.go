package lead

import (
	"strings"
	"time"
)

// NormalizePhone keeps only digits and a single leading '+'. It is
// idempotent, and returns "" when the input has no digits.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	plus := strings.HasPrefix(s, "+")
	var b strings.Builder
	b.Grow(len(s) + 1)
	if plus {
		b.WriteByte('+')
	}
	digits := 0
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
			digits++
		}
	}
	if digits == 0 {
		return ""
	}
	return b.String()
}

// NormalizeEmail trims surrounding whitespace; no further validation.
func NormalizeEmail(raw string) string {
	return strings.TrimSpace(raw)
}

// ResolveName returns the trimmed name, or fallback when it is blank.
func ResolveName(name, fallback string) string {
	if n := strings.Join(strings.Fields(name), " "); n != "" {
		return n
	}
	return fallback
}

// DealTitle joins name, listing title, listing reference and channel:
// "Jane Doe | Sea View 2BR | REF123 (whatsapp)". Absent parts are skipped.
func DealTitle(name, listingTitle, listingRef, channel string) string {
	var b strings.Builder
	b.WriteString(name)
	if listingTitle != "" {
		b.WriteString(" | ")
		b.WriteString(listingTitle)
	}
	if listingRef != "" {
		b.WriteString(" | ")
		b.WriteString(listingRef)
	}
	if channel != "" {
		b.WriteString(" (")
		b.WriteString(channel)
		b.WriteString(")")
	}
	return b.String()
}

// DealTitle builds the CRM deal title for l.
func (l *Lead) DealTitle() string {
	return DealTitle(l.Name, l.ListingTitle, l.ListingReference, l.Channel)
}

// ParseTime accepts the timestamp layouts the portals are known to send.
func ParseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Finalize applies the defaults every portal shares: trimmed contact data,
// the fallback name, the configured currency and the WhatsApp number for
// WhatsApp-channel leads.
func (l *Lead) Finalize(defaultName, defaultCurrency string) {
	l.Name = ResolveName(l.Name, defaultName)
	l.Email = NormalizeEmail(l.Email)
	l.Phone = NormalizePhone(l.Phone)
	l.WhatsApp = NormalizePhone(l.WhatsApp)
	l.Agent.Phone = NormalizePhone(l.Agent.Phone)
	l.Agent.Email = NormalizeEmail(l.Agent.Email)
	l.Channel = strings.TrimSpace(l.Channel)
	l.Message = strings.TrimSpace(l.Message)
	if l.Currency == "" {
		l.Currency = defaultCurrency
	}
	if l.WhatsApp == "" && strings.EqualFold(l.Channel, "whatsapp") {
		l.WhatsApp = l.Phone
	}
	if l.Price < 0 {
		l.Price = 0
	}
}
