// Package auth drives the per-user login flow: credential collection,
// code verification, optional two-factor password, session persistence.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"contactbot/core/logger"
	"contactbot/core/telegram/state"
	"contactbot/internal/platform"
	"contactbot/internal/session"
	"log/slog"
)

// User-facing flow messages.
const (
	MsgWelcome = "Welcome! Please send your **API_ID** (number) from https://my.telegram.org/apps"

	msgAPIIDNotNumber  = "API_ID must be a number. Try again."
	msgAskAPIHash      = "Now please send your API_HASH (32 characters)"
	msgAPIHashBadLen   = "API_HASH should be exactly 32 characters. Try again."
	msgAskPhone        = "Send your phone number with country code (e.g., +123456789)"
	msgPhoneBadFormat  = "Phone number should start with '+' and contain digits only. Try again."
	msgConnecting      = "Connecting and sending login code..."
	msgAlreadyLoggedIn = "You are already logged in!"
	msgPhoneRejected   = "Invalid phone number provided. Please send it again."
	msgCodeSent        = "Login code sent! Please enter the code you received."
	msgSessionExpired  = "Session lost or expired. Please /start again."
	msgLoginSuccess    = "Login successful! You are now logged in."
	msgPasswordNeeded  = "Two-factor authentication enabled. Please enter your password."
	msgCodeInvalid     = "Invalid code entered. Please try again."
	msgPasswordWrong   = "Incorrect password. Try again."
	msgLoggedInInfo    = "You're already logged in. Upload a .vcf file to import your contacts."
	msgCancelled       = "Login cancelled. Send /start to begin again."
	msgTooManyActive   = "Too many users are logging in right now. Please try again later."
)

const apiHashLength = 32

// Reply delivers one plain-text message back to the user.
type Reply func(text string) error

// Flow coordinates the state machine, the session registry and persistence.
// Entry fields go through their accessors: the checkpoint and the idle
// janitor touch entries from other goroutines.
type Flow struct {
	states state.Manager
	reg    *session.Registry
	store  session.Store
	dial   platform.Dialer
}

// NewFlow wires the flow's collaborators.
func NewFlow(states state.Manager, reg *session.Registry, store session.Store, dial platform.Dialer) *Flow {
	return &Flow{states: states, reg: reg, store: store, dial: dial}
}

// Start begins (or restarts) the login flow for a user, replacing any prior
// in-progress session. The caller sends the welcome prompt.
func (f *Flow) Start(ctx context.Context, userID int64) error {
	if _, err := f.reg.Begin(userID); err != nil {
		return err
	}
	f.states.SetState(userID, StateAwaitingAPIID)
	logger.SVCAuth.Info("flow started",
		slog.String("event", "flow.start"),
		slog.Int64("user_id", userID),
	)
	return nil
}

// Submit routes one text input to the handler for the user's current state.
func (f *Flow) Submit(ctx context.Context, userID int64, text string, reply Reply) error {
	f.reg.Touch(userID)
	switch f.states.GetState(userID) {
	case StateAwaitingAPIID:
		return f.submitAPIID(userID, text, reply)
	case StateAwaitingAPIHash:
		return f.submitAPIHash(userID, text, reply)
	case StateAwaitingPhone:
		return f.submitPhone(ctx, userID, text, reply)
	case StateSendingCode:
		// Connection attempt still in flight; ignore extra input.
		return nil
	case StateAwaitingCode:
		return f.submitCode(ctx, userID, text, reply)
	case StateAwaiting2FA:
		return f.submitPassword(ctx, userID, text, reply)
	case StateAuthenticated:
		return reply(msgLoggedInInfo)
	default:
		return nil
	}
}

// State returns the user's current flow state.
func (f *Flow) State(userID int64) state.State {
	return f.states.GetState(userID)
}

// Authenticated reports whether the user completed the login flow.
func (f *Flow) Authenticated(userID int64) bool {
	return f.states.GetState(userID) == StateAuthenticated
}

// Client returns the user's live connection, if any.
func (f *Flow) Client(userID int64) (platform.Client, bool) {
	e, ok := f.reg.Get(userID)
	if !ok {
		return nil, false
	}
	client := e.Client()
	if client == nil {
		return nil, false
	}
	return client, true
}

// Cancel aborts the flow on the user's request with the standard cleanup.
func (f *Flow) Cancel(userID int64, reply Reply) error {
	if !f.states.HasState(userID) {
		return nil
	}
	return f.abort(userID, reply, msgCancelled)
}

// AbortStale drops non-authenticated flows idle past the given bound with
// the same cleanup as a failure abort. Returns the number of aborted flows.
func (f *Flow) AbortStale(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	aborted := 0
	for _, userID := range f.reg.Stale(time.Now().Add(-idle)) {
		if f.states.GetState(userID) == StateAuthenticated {
			continue
		}
		f.reg.Drop(userID)
		f.states.Clear(userID)
		aborted++
		logger.SVCAuth.Info("stale flow aborted",
			slog.String("event", "flow.idle_abort"),
			slog.Int64("user_id", userID),
		)
	}
	return aborted
}

func (f *Flow) submitAPIID(userID int64, text string, reply Reply) error {
	e, ok := f.reg.Get(userID)
	if !ok {
		return f.abort(userID, reply, msgSessionExpired)
	}
	if !allDigits(text) {
		return reply(msgAPIIDNotNumber)
	}
	appID, err := strconv.Atoi(text)
	if err != nil {
		return reply(msgAPIIDNotNumber)
	}
	e.SetAppID(appID)
	f.states.SetState(userID, StateAwaitingAPIHash)
	return reply(msgAskAPIHash)
}

func (f *Flow) submitAPIHash(userID int64, text string, reply Reply) error {
	e, ok := f.reg.Get(userID)
	if !ok {
		return f.abort(userID, reply, msgSessionExpired)
	}
	if len(text) != apiHashLength {
		return reply(msgAPIHashBadLen)
	}
	e.SetAppHash(text)
	f.states.SetState(userID, StateAwaitingPhone)
	return reply(msgAskPhone)
}

func (f *Flow) submitPhone(ctx context.Context, userID int64, text string, reply Reply) error {
	e, ok := f.reg.Get(userID)
	if !ok {
		return f.abort(userID, reply, msgSessionExpired)
	}
	if !validPhone(text) {
		return reply(msgPhoneBadFormat)
	}
	e.SetPhone(text)
	f.states.SetState(userID, StateSendingCode)
	if err := reply(msgConnecting); err != nil {
		return err
	}

	client := f.dial(e.AppID(), e.AppHash(), "")
	e.SetClient(client)
	if err := client.Connect(ctx); err != nil {
		return f.abort(userID, reply, fmt.Sprintf("Failed to connect: %v", err))
	}

	authorized, err := client.IsAuthorized(ctx)
	if err != nil {
		return f.abort(userID, reply, fmt.Sprintf("Failed to check authorization: %v", err))
	}
	if authorized {
		// Session already valid; no code round-trip needed.
		return f.finishLogin(ctx, userID, reply, msgAlreadyLoggedIn)
	}

	err = client.RequestLoginCode(ctx, e.Phone())
	switch platform.KindOf(err) {
	case platform.KindPhoneInvalid:
		// Back to phone entry; keep app id/hash, drop the connection so it
		// only exists from sending_code onward.
		_ = client.Close()
		e.SetClient(nil)
		f.states.SetState(userID, StateAwaitingPhone)
		return reply(msgPhoneRejected)
	default:
		if err != nil {
			return f.abort(userID, reply, fmt.Sprintf("Failed to send code: %v", err))
		}
	}

	f.states.SetState(userID, StateAwaitingCode)
	return reply(msgCodeSent)
}

func (f *Flow) submitCode(ctx context.Context, userID int64, code string, reply Reply) error {
	e, ok := f.reg.Get(userID)
	if !ok {
		return f.abort(userID, reply, msgSessionExpired)
	}
	client := e.Client()
	if client == nil {
		return f.abort(userID, reply, msgSessionExpired)
	}

	err := client.SignInWithCode(ctx, e.Phone(), code)
	switch platform.KindOf(err) {
	case platform.KindPasswordNeeded:
		f.states.SetState(userID, StateAwaiting2FA)
		return reply(msgPasswordNeeded)
	case platform.KindCodeInvalid:
		return reply(msgCodeInvalid)
	default:
		if err != nil {
			return f.abort(userID, reply, fmt.Sprintf("Login failed: %v", err))
		}
	}
	return f.finishLogin(ctx, userID, reply, msgLoginSuccess)
}

func (f *Flow) submitPassword(ctx context.Context, userID int64, password string, reply Reply) error {
	e, ok := f.reg.Get(userID)
	if !ok {
		return f.abort(userID, reply, msgSessionExpired)
	}
	client := e.Client()
	if client == nil {
		return f.abort(userID, reply, msgSessionExpired)
	}

	err := client.SignInWithPassword(ctx, password)
	switch platform.KindOf(err) {
	case platform.KindPasswordInvalid:
		return reply(msgPasswordWrong)
	default:
		if err != nil {
			return f.abort(userID, reply, fmt.Sprintf("Two-factor login failed: %v", err))
		}
	}
	return f.finishLogin(ctx, userID, reply, "Two-factor password accepted! Login complete.")
}

// finishLogin marks the user authenticated and checkpoints the whole store.
// A persistence failure is logged but does not undo the login.
func (f *Flow) finishLogin(ctx context.Context, userID int64, reply Reply, message string) error {
	f.states.SetState(userID, StateAuthenticated)
	if err := session.Checkpoint(ctx, f.reg, f.store); err != nil {
		logger.SVCAuth.Error("post-login checkpoint failed",
			slog.String("event", "flow.persist"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
	}
	logger.SVCAuth.Info("login complete",
		slog.String("event", "flow.authenticated"),
		slog.Int64("user_id", userID),
	)
	return reply(message)
}

// abort drops the user's state and connection, so the flow must restart.
func (f *Flow) abort(userID int64, reply Reply, message string) error {
	f.reg.Drop(userID)
	f.states.Clear(userID)
	logger.SVCAuth.Warn("flow aborted",
		slog.String("event", "flow.abort"),
		slog.Int64("user_id", userID),
	)
	return reply(message)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validPhone(s string) bool {
	return len(s) > 1 && s[0] == '+' && allDigits(s[1:])
}
