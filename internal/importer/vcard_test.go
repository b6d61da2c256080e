package importer

import (
	"strings"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+15551234567", "+15551234567", true},
		{"+1 (555) 123-45.67", "+15551234567", true},
		{"  +49 170 1234567 ", "+491701234567", true},
		{"15551234567", "", false},
		{"+", "", false},
		{"+1555x234", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

const sampleVCF = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Alice Example\r\n" +
	"TEL:+1 555 000 0001\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Bob Broken\r\n" +
	"TEL:not-a-number\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"N:Carol;;;;\r\n" +
	"FN:Carol\r\n" +
	"TEL;TYPE=CELL:+44 20 7946 0958\r\n" +
	"END:VCARD\r\n"

func TestParseVCF(t *testing.T) {
	contacts, err := ParseVCF(strings.NewReader(sampleVCF))
	if err != nil {
		t.Fatalf("ParseVCF: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts (invalid phone dropped), got %d: %+v", len(contacts), contacts)
	}
	if contacts[0].Name != "Alice Example" || contacts[0].Phone != "+15550000001" {
		t.Errorf("first contact = %+v", contacts[0])
	}
	if contacts[1].Name != "Carol" || contacts[1].Phone != "+442079460958" {
		t.Errorf("second contact = %+v", contacts[1])
	}
}

func TestParseVCFEmpty(t *testing.T) {
	contacts, err := ParseVCF(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ParseVCF: %v", err)
	}
	if len(contacts) != 0 {
		t.Fatalf("expected no contacts, got %d", len(contacts))
	}
}
