// Package importer parses uploaded contact-card files and imports the
// contacts to the remote platform in fixed-size batches.
package importer

import (
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-vcard"
)

// Contact is one parsed, normalized contact record.
type Contact struct {
	Name  string
	Phone string
}

// ParseVCF decodes every card in the stream into contacts. Records whose
// phone number fails normalization are dropped; a card without any phone is
// skipped silently.
func ParseVCF(r io.Reader) ([]Contact, error) {
	dec := vcard.NewDecoder(r)
	var contacts []Contact
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		phone, ok := NormalizePhone(card.PreferredValue(vcard.FieldTelephone))
		if !ok {
			continue
		}
		contacts = append(contacts, Contact{
			Name:  displayName(card),
			Phone: phone,
		})
	}
	return contacts, nil
}

// NormalizePhone strips common separators and validates that the result
// starts with '+' followed only by digits.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch r {
		case ' ', '-', '(', ')', '.':
			continue
		}
		b.WriteRune(r)
	}
	phone := b.String()
	if len(phone) < 2 || phone[0] != '+' {
		return "", false
	}
	for _, r := range phone[1:] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return phone, true
}

func displayName(card vcard.Card) string {
	if fn := strings.TrimSpace(card.PreferredValue(vcard.FieldFormattedName)); fn != "" {
		return fn
	}
	if n := card.Name(); n != nil {
		parts := []string{n.GivenName, n.FamilyName}
		name := strings.TrimSpace(strings.Join(parts, " "))
		if name != "" {
			return name
		}
	}
	return ""
}
