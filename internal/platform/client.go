// Package platform wraps the remote messaging platform behind a small client
// contract: connect, authenticate, import contacts. The flow and the import
// pipeline only ever see this interface and the tagged error kinds.
package platform

import "context"

// Contact is one record submitted to a bulk import call.
type Contact struct {
	ClientTag int64  `json:"client_tag"`
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ImportedUser is one remote user returned from a successful import call.
// FirstName may be absent for accounts that hide their name.
type ImportedUser struct {
	ID          int64   `json:"id"`
	AccessToken string  `json:"access_token"`
	FirstName   *string `json:"first_name"`
	Phone       string  `json:"phone"`
}

// Client is a per-user connection to the remote platform.
type Client interface {
	// Connect opens the connection; it does not authenticate.
	Connect(ctx context.Context) error
	// IsAuthorized reports whether the bound session is already signed in.
	IsAuthorized(ctx context.Context) (bool, error)
	// RequestLoginCode asks the platform to deliver a login code to phone.
	RequestLoginCode(ctx context.Context, phone string) error
	// SignInWithCode completes the login with phone plus the received code.
	SignInWithCode(ctx context.Context, phone, code string) error
	// SignInWithPassword completes a two-factor login.
	SignInWithPassword(ctx context.Context, password string) error
	// ImportContacts submits one batch and returns the imported users.
	ImportContacts(ctx context.Context, contacts []Contact) ([]ImportedUser, error)
	// ExportSession serializes the session token for persistence.
	ExportSession() (string, error)
	// Close releases the connection.
	Close() error
}

// Dialer constructs a client bound to the given credentials and an optional
// previously exported session token (empty for a fresh login).
type Dialer func(appID int, appHash, session string) Client
