package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"contactbot/core/logger"
	"contactbot/internal/platform"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

// importClient records batches and fails the call indexes listed in failOn.
type importClient struct {
	batches [][]platform.Contact
	failOn  map[int]bool
}

func (c *importClient) Connect(context.Context) error                        { return nil }
func (c *importClient) IsAuthorized(context.Context) (bool, error)           { return true, nil }
func (c *importClient) RequestLoginCode(context.Context, string) error       { return nil }
func (c *importClient) SignInWithCode(context.Context, string, string) error { return nil }
func (c *importClient) SignInWithPassword(context.Context, string) error     { return nil }
func (c *importClient) ExportSession() (string, error)                       { return "", nil }
func (c *importClient) Close() error                                         { return nil }

func (c *importClient) ImportContacts(_ context.Context, contacts []platform.Contact) ([]platform.ImportedUser, error) {
	call := len(c.batches)
	c.batches = append(c.batches, contacts)
	if c.failOn[call] {
		return nil, errors.New("remote rejected batch")
	}
	users := make([]platform.ImportedUser, len(contacts))
	for i, contact := range contacts {
		first := contact.FirstName
		users[i] = platform.ImportedUser{
			ID:          contact.ClientTag,
			AccessToken: fmt.Sprintf("token-%d", contact.ClientTag),
			FirstName:   &first,
			Phone:       contact.Phone,
		}
	}
	return users, nil
}

func stubSleep(t *testing.T, pauses *int) {
	t.Helper()
	orig := sleep
	sleep = func(ctx context.Context, _ time.Duration) error {
		*pauses++
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
}

func makeContacts(n int) []Contact {
	contacts := make([]Contact, n)
	for i := range contacts {
		contacts[i] = Contact{
			Name:  fmt.Sprintf("User %d", i),
			Phone: fmt.Sprintf("+1555%07d", i),
		}
	}
	return contacts
}

func TestRunBatching(t *testing.T) {
	var pauses int
	stubSleep(t, &pauses)

	client := &importClient{}
	summary, err := Run(context.Background(), client, makeContacts(65), Options{BatchSize: 30}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(client.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(client.batches))
	}
	for i, want := range []int{30, 30, 5} {
		if len(client.batches[i]) != want {
			t.Errorf("batch %d size = %d, want %d", i, len(client.batches[i]), want)
		}
	}
	if pauses != 2 {
		t.Errorf("expected 2 pauses between 3 batches, got %d", pauses)
	}
	if summary.Batches != 3 || len(summary.Imported) != 65 || len(summary.Failed) != 0 {
		t.Errorf("summary = batches %d, imported %d, failed %d",
			summary.Batches, len(summary.Imported), len(summary.Failed))
	}

	// Input order must survive the partitioning.
	if got := client.batches[2][4].Phone; got != "+15550000064" {
		t.Errorf("last contact phone = %q", got)
	}
	if got := client.batches[1][0].ClientTag; got != 30 {
		t.Errorf("first tag of second batch = %d, want 30", got)
	}
}

func TestRunFailedBatchDoesNotStopLaterOnes(t *testing.T) {
	var pauses int
	stubSleep(t, &pauses)

	client := &importClient{failOn: map[int]bool{1: true}}
	contacts := makeContacts(65)

	var notes []string
	summary, err := Run(context.Background(), client, contacts, Options{BatchSize: 30}, func(text string) {
		notes = append(notes, text)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(client.batches) != 3 {
		t.Fatalf("expected all 3 batches attempted, got %d", len(client.batches))
	}
	if len(summary.Imported) != 35 {
		t.Errorf("imported = %d, want 35", len(summary.Imported))
	}
	if len(summary.Failed) != 30 {
		t.Fatalf("failed = %d, want the whole second batch", len(summary.Failed))
	}
	if summary.Failed[0].Phone != contacts[30].Phone {
		t.Errorf("failed batch starts at %q, want %q", summary.Failed[0].Phone, contacts[30].Phone)
	}
	// No pause after a failed batch; only the one after batch 1.
	if pauses != 1 {
		t.Errorf("pauses = %d, want 1", pauses)
	}
	if len(notes) == 0 || notes[len(notes)-1] != "Import finished: 35 contacts imported, 30 failed." {
		t.Errorf("final notification = %q", notes[len(notes)-1])
	}
}

func TestRunNoContacts(t *testing.T) {
	_, err := Run(context.Background(), &importClient{}, nil, Options{}, nil)
	if !errors.Is(err, ErrNoContacts) {
		t.Fatalf("expected ErrNoContacts, got %v", err)
	}
}

func TestRunCanceledDuringPause(t *testing.T) {
	orig := sleep
	sleep = func(context.Context, time.Duration) error { return context.Canceled }
	t.Cleanup(func() { sleep = orig })

	client := &importClient{}
	summary, err := Run(context.Background(), client, makeContacts(40), Options{BatchSize: 30}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(summary.Imported) != 30 {
		t.Errorf("partial summary imported = %d, want 30", len(summary.Imported))
	}
	if len(client.batches) != 1 {
		t.Errorf("batches attempted = %d, want 1", len(client.batches))
	}
}

func TestRunHidesMissingFirstName(t *testing.T) {
	var pauses int
	stubSleep(t, &pauses)

	client := &anonymousClient{}
	summary, err := Run(context.Background(), client, makeContacts(1), Options{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Imported) != 1 || summary.Imported[0].Name != "Unknown" {
		t.Fatalf("imported = %+v, want Name \"Unknown\"", summary.Imported)
	}
}

// anonymousClient returns users without a first name.
type anonymousClient struct{ importClient }

func (c *anonymousClient) ImportContacts(_ context.Context, contacts []platform.Contact) ([]platform.ImportedUser, error) {
	users := make([]platform.ImportedUser, len(contacts))
	for i, contact := range contacts {
		users[i] = platform.ImportedUser{ID: contact.ClientTag, Phone: contact.Phone}
	}
	return users, nil
}

func TestSplitName(t *testing.T) {
	cases := []struct {
		in          string
		first, last string
	}{
		{"Alice Example", "Alice", "Example"},
		{"Alice", "Alice", ""},
		{"Anna Maria van Dam", "Anna", "Maria van Dam"},
		{"  ", "", ""},
	}
	for _, tc := range cases {
		first, last := splitName(tc.in)
		if first != tc.first || last != tc.last {
			t.Errorf("splitName(%q) = %q, %q; want %q, %q", tc.in, first, last, tc.first, tc.last)
		}
	}
}
