package auth

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"contactbot/core/logger"
	"contactbot/core/telegram/state"
	"contactbot/internal/platform"
	"contactbot/internal/session"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

// scriptClient plays back configured outcomes for each platform call.
type scriptClient struct {
	authorized   bool
	connectErr   error
	requestErr   error
	codeErrs     []error
	passwordErrs []error

	codeRequests int
	closed       bool
}

func (c *scriptClient) Connect(context.Context) error { return c.connectErr }

func (c *scriptClient) IsAuthorized(context.Context) (bool, error) { return c.authorized, nil }

func (c *scriptClient) RequestLoginCode(context.Context, string) error {
	c.codeRequests++
	return c.requestErr
}

func (c *scriptClient) SignInWithCode(context.Context, string, string) error {
	return pop(&c.codeErrs)
}

func (c *scriptClient) SignInWithPassword(context.Context, string) error {
	return pop(&c.passwordErrs)
}

func (c *scriptClient) ImportContacts(context.Context, []platform.Contact) ([]platform.ImportedUser, error) {
	return nil, nil
}

func (c *scriptClient) ExportSession() (string, error) { return "exported-token", nil }
func (c *scriptClient) Close() error                   { c.closed = true; return nil }

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

type recordStore struct {
	tokens map[int64]string
	saves  int
}

func (s *recordStore) SaveAll(_ context.Context, tokens map[int64]string) error {
	s.saves++
	s.tokens = tokens
	return nil
}

func (s *recordStore) LoadAll(context.Context) (map[int64]string, error) {
	return map[int64]string{}, nil
}

// harness bundles a flow with its fakes and a reply recorder.
type harness struct {
	flow    *Flow
	states  state.Manager
	reg     *session.Registry
	store   *recordStore
	client  *scriptClient
	replies []string
}

func newHarness(client *scriptClient) *harness {
	h := &harness{
		states: state.NewMemoryManager(),
		reg:    session.NewRegistry(0),
		store:  &recordStore{},
		client: client,
	}
	dial := func(appID int, appHash, token string) platform.Client { return h.client }
	h.flow = NewFlow(h.states, h.reg, h.store, dial)
	return h
}

func (h *harness) submit(t *testing.T, userID int64, text string) {
	t.Helper()
	err := h.flow.Submit(context.Background(), userID, text, func(text string) error {
		h.replies = append(h.replies, text)
		return nil
	})
	if err != nil {
		t.Fatalf("Submit(%q): %v", text, err)
	}
}

func (h *harness) lastReply(t *testing.T) string {
	t.Helper()
	if len(h.replies) == 0 {
		t.Fatal("no replies recorded")
	}
	return h.replies[len(h.replies)-1]
}

func (h *harness) wantState(t *testing.T, userID int64, want state.State) {
	t.Helper()
	if got := h.states.GetState(userID); got != want {
		t.Fatalf("state = %q, want %q", got, want)
	}
}

const userID = int64(42)

func start(t *testing.T, h *harness) {
	t.Helper()
	if err := h.flow.Start(context.Background(), userID); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// walkToPhone drives a started flow through the credential steps.
func walkToPhone(t *testing.T, h *harness) {
	t.Helper()
	h.submit(t, userID, "123456")
	h.submit(t, userID, "0123456789abcdef0123456789abcdef")
	h.wantState(t, userID, StateAwaitingPhone)
}

func TestFlowRejectsBadCredentialInput(t *testing.T) {
	h := newHarness(&scriptClient{})
	start(t, h)

	h.submit(t, userID, "12ab34")
	if h.lastReply(t) != msgAPIIDNotNumber {
		t.Errorf("reply = %q", h.lastReply(t))
	}
	h.wantState(t, userID, StateAwaitingAPIID)

	h.submit(t, userID, "123456")
	h.wantState(t, userID, StateAwaitingAPIHash)

	h.submit(t, userID, "tooshort")
	if h.lastReply(t) != msgAPIHashBadLen {
		t.Errorf("reply = %q", h.lastReply(t))
	}
	h.wantState(t, userID, StateAwaitingAPIHash)

	h.submit(t, userID, "0123456789abcdef0123456789abcdef")
	h.wantState(t, userID, StateAwaitingPhone)

	for _, bad := range []string{"123456789", "+", "+12 34", "plus12345"} {
		h.submit(t, userID, bad)
		if h.lastReply(t) != msgPhoneBadFormat {
			t.Errorf("phone %q: reply = %q", bad, h.lastReply(t))
		}
		h.wantState(t, userID, StateAwaitingPhone)
	}
}

func TestFlowHappyPathWithCode(t *testing.T) {
	h := newHarness(&scriptClient{})
	start(t, h)
	walkToPhone(t, h)

	h.submit(t, userID, "+15551234567")
	h.wantState(t, userID, StateAwaitingCode)
	if h.lastReply(t) != msgCodeSent {
		t.Errorf("reply = %q", h.lastReply(t))
	}
	if h.client.codeRequests != 1 {
		t.Errorf("code requests = %d, want 1", h.client.codeRequests)
	}

	h.submit(t, userID, "12345")
	h.wantState(t, userID, StateAuthenticated)
	if h.lastReply(t) != msgLoginSuccess {
		t.Errorf("reply = %q", h.lastReply(t))
	}
	if !h.flow.Authenticated(userID) {
		t.Error("Authenticated = false after login")
	}
	if h.store.saves != 1 || h.store.tokens[userID] != "exported-token" {
		t.Errorf("checkpoint saves = %d, tokens = %v", h.store.saves, h.store.tokens)
	}

	e, _ := h.reg.Get(userID)
	if e.AppID() != 123456 || e.Phone() != "+15551234567" {
		t.Errorf("entry app id = %d, phone = %q", e.AppID(), e.Phone())
	}
}

func TestFlowAlreadyAuthorizedSkipsCode(t *testing.T) {
	h := newHarness(&scriptClient{authorized: true})
	start(t, h)
	walkToPhone(t, h)

	h.submit(t, userID, "+15551234567")
	h.wantState(t, userID, StateAuthenticated)
	if h.lastReply(t) != msgAlreadyLoggedIn {
		t.Errorf("reply = %q", h.lastReply(t))
	}
	if h.client.codeRequests != 0 {
		t.Errorf("code requests = %d, want 0", h.client.codeRequests)
	}
	if h.store.saves != 1 {
		t.Errorf("checkpoint saves = %d, want 1", h.store.saves)
	}
}

func TestFlowPhoneRejectedReturnsToPhoneEntry(t *testing.T) {
	h := newHarness(&scriptClient{
		requestErr: &platform.Error{Kind: platform.KindPhoneInvalid, Code: "PHONE_NUMBER_INVALID"},
	})
	start(t, h)
	walkToPhone(t, h)

	h.submit(t, userID, "+10000000000")
	h.wantState(t, userID, StateAwaitingPhone)
	if h.lastReply(t) != msgPhoneRejected {
		t.Errorf("reply = %q", h.lastReply(t))
	}
	if !h.client.closed {
		t.Error("rejected connection was not closed")
	}

	// Credentials survive the retry; a second attempt succeeds.
	e, ok := h.reg.Get(userID)
	if !ok || e.AppID() != 123456 || e.Client() != nil {
		t.Fatalf("entry after rejection: ok=%v", ok)
	}
	h.client = &scriptClient{}
	h.submit(t, userID, "+15551234567")
	h.wantState(t, userID, StateAwaitingCode)
}

func TestFlowCodeRetriesThenSucceeds(t *testing.T) {
	wrong := &platform.Error{Kind: platform.KindCodeInvalid, Code: "PHONE_CODE_INVALID"}
	h := newHarness(&scriptClient{codeErrs: []error{wrong, wrong, nil}})
	start(t, h)
	walkToPhone(t, h)
	h.submit(t, userID, "+15551234567")

	for i := 0; i < 2; i++ {
		h.submit(t, userID, "00000")
		h.wantState(t, userID, StateAwaitingCode)
		if h.lastReply(t) != msgCodeInvalid {
			t.Errorf("attempt %d: reply = %q", i+1, h.lastReply(t))
		}
	}

	h.submit(t, userID, "12345")
	h.wantState(t, userID, StateAuthenticated)
}

func TestFlowTwoFactorWrongThenRight(t *testing.T) {
	h := newHarness(&scriptClient{
		codeErrs: []error{&platform.Error{Kind: platform.KindPasswordNeeded, Code: "SESSION_PASSWORD_NEEDED"}},
		passwordErrs: []error{
			&platform.Error{Kind: platform.KindPasswordInvalid, Code: "PASSWORD_HASH_INVALID"},
			nil,
		},
	})
	start(t, h)
	walkToPhone(t, h)
	h.submit(t, userID, "+15551234567")

	h.submit(t, userID, "12345")
	h.wantState(t, userID, StateAwaiting2FA)
	if h.lastReply(t) != msgPasswordNeeded {
		t.Errorf("reply = %q", h.lastReply(t))
	}

	h.submit(t, userID, "wrong-password")
	h.wantState(t, userID, StateAwaiting2FA)
	if h.lastReply(t) != msgPasswordWrong {
		t.Errorf("reply = %q", h.lastReply(t))
	}

	h.submit(t, userID, "correct-password")
	h.wantState(t, userID, StateAuthenticated)
}

func TestFlowFatalLoginErrorAborts(t *testing.T) {
	h := newHarness(&scriptClient{codeErrs: []error{errors.New("flood wait")}})
	start(t, h)
	walkToPhone(t, h)
	h.submit(t, userID, "+15551234567")

	h.submit(t, userID, "12345")
	if h.states.HasState(userID) {
		t.Error("state survived a fatal login error")
	}
	if _, ok := h.reg.Get(userID); ok {
		t.Error("registry entry survived a fatal login error")
	}
	if !h.client.closed {
		t.Error("client was not closed on abort")
	}
}

func TestFlowConnectFailureAborts(t *testing.T) {
	h := newHarness(&scriptClient{connectErr: errors.New("gateway unreachable")})
	start(t, h)
	walkToPhone(t, h)

	h.submit(t, userID, "+15551234567")
	if h.states.HasState(userID) {
		t.Error("state survived a connect failure")
	}
	if _, ok := h.reg.Get(userID); ok {
		t.Error("registry entry survived a connect failure")
	}
}

func TestFlowCancel(t *testing.T) {
	h := newHarness(&scriptClient{})
	start(t, h)
	h.submit(t, userID, "123456")

	if err := h.flow.Cancel(userID, func(text string) error {
		h.replies = append(h.replies, text)
		return nil
	}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if h.lastReply(t) != msgCancelled {
		t.Errorf("reply = %q", h.lastReply(t))
	}
	if h.states.HasState(userID) {
		t.Error("state survived Cancel")
	}

	// Cancel with no active flow is silent.
	if err := h.flow.Cancel(userID, func(string) error {
		t.Fatal("unexpected reply")
		return nil
	}); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
}

func TestFlowRestartReplacesSession(t *testing.T) {
	h := newHarness(&scriptClient{})
	start(t, h)
	h.submit(t, userID, "123456")

	start(t, h)
	h.wantState(t, userID, StateAwaitingAPIID)
	e, _ := h.reg.Get(userID)
	if e.AppID() != 0 {
		t.Errorf("restart kept old credentials: app id = %d", e.AppID())
	}
}

func TestFlowAuthenticatedInputPointsToUpload(t *testing.T) {
	h := newHarness(&scriptClient{authorized: true})
	start(t, h)
	walkToPhone(t, h)
	h.submit(t, userID, "+15551234567")

	h.submit(t, userID, "hello?")
	if h.lastReply(t) != msgLoggedInInfo {
		t.Errorf("reply = %q", h.lastReply(t))
	}
	h.wantState(t, userID, StateAuthenticated)
}

func TestAbortStaleSkipsAuthenticated(t *testing.T) {
	h := newHarness(&scriptClient{authorized: true})

	// User 42 completes the login; a second user stalls mid-flow.
	start(t, h)
	walkToPhone(t, h)
	h.submit(t, userID, "+15551234567")

	stalled := int64(43)
	if err := h.flow.Start(context.Background(), stalled); err != nil {
		t.Fatalf("Start stalled: %v", err)
	}

	// Let both entries age past a tiny idle bound; only the stalled
	// non-authenticated flow may be aborted.
	time.Sleep(10 * time.Millisecond)
	if n := h.flow.AbortStale(time.Millisecond); n != 1 {
		t.Fatalf("AbortStale = %d, want 1", n)
	}
	if !h.flow.Authenticated(userID) {
		t.Error("authenticated session was aborted")
	}
	if h.states.HasState(stalled) {
		t.Error("stalled flow survived AbortStale")
	}
}

func TestFlowLostEntryExpiresSession(t *testing.T) {
	h := newHarness(&scriptClient{})
	start(t, h)
	walkToPhone(t, h)
	h.submit(t, userID, "+15551234567")
	h.wantState(t, userID, StateAwaitingCode)

	// Simulate a lost connection while the user types the code.
	h.reg.Drop(userID)

	h.submit(t, userID, "12345")
	if h.lastReply(t) != msgSessionExpired {
		t.Errorf("reply = %q", h.lastReply(t))
	}
	if h.states.HasState(userID) {
		t.Error("state survived the expired session")
	}
}
