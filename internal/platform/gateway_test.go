package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func gatewayServer(t *testing.T, handler http.HandlerFunc) (Dialer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDialer(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}), srv
}

func decodeRequest(t *testing.T, r *http.Request) gatewayRequest {
	t.Helper()
	var req gatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func TestGatewayCarriesCredentials(t *testing.T) {
	var got gatewayRequest
	dial, _ := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		_ = json.NewEncoder(w).Encode(gatewayResponse{OK: true})
	})

	client := dial(123456, "hash-value", "prior-token")
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got.AppID != 123456 || got.AppHash != "hash-value" || got.Session != "prior-token" {
		t.Errorf("request = %+v", got)
	}
}

func TestGatewaySessionRotation(t *testing.T) {
	calls := 0
	var sessions []string
	dial, _ := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		sessions = append(sessions, req.Session)
		calls++
		_ = json.NewEncoder(w).Encode(gatewayResponse{OK: true, Session: "rotated-token"})
	})

	client := dial(1, "h", "")
	ctx := context.Background()

	if _, err := client.ExportSession(); err == nil {
		t.Fatal("ExportSession succeeded before any session was established")
	}

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.RequestLoginCode(ctx, "+15551234567"); err != nil {
		t.Fatalf("RequestLoginCode: %v", err)
	}

	if calls != 2 || sessions[0] != "" || sessions[1] != "rotated-token" {
		t.Errorf("calls = %d, sessions = %v", calls, sessions)
	}
	token, err := client.ExportSession()
	if err != nil || token != "rotated-token" {
		t.Errorf("ExportSession = %q, %v", token, err)
	}
}

func TestGatewayMapsRejections(t *testing.T) {
	dial, _ := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(gatewayResponse{Error: "PHONE_NUMBER_INVALID"})
	})

	client := dial(1, "h", "")
	err := client.RequestLoginCode(context.Background(), "+1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if KindOf(err) != KindPhoneInvalid {
		t.Errorf("KindOf = %v, want KindPhoneInvalid, err = %v", KindOf(err), err)
	}
}

func TestGatewayTwoFactorBranch(t *testing.T) {
	dial, _ := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.Code != "" {
			_ = json.NewEncoder(w).Encode(gatewayResponse{Error: "SESSION_PASSWORD_NEEDED"})
			return
		}
		if req.Password == "hunter2" {
			_ = json.NewEncoder(w).Encode(gatewayResponse{OK: true, Session: "authed"})
			return
		}
		_ = json.NewEncoder(w).Encode(gatewayResponse{Error: "PASSWORD_HASH_INVALID"})
	})

	client := dial(1, "h", "")
	ctx := context.Background()

	err := client.SignInWithCode(ctx, "+15551234567", "12345")
	if KindOf(err) != KindPasswordNeeded {
		t.Fatalf("code sign-in: KindOf = %v, err = %v", KindOf(err), err)
	}
	err = client.SignInWithPassword(ctx, "wrong")
	if KindOf(err) != KindPasswordInvalid {
		t.Fatalf("wrong password: KindOf = %v, err = %v", KindOf(err), err)
	}
	if err := client.SignInWithPassword(ctx, "hunter2"); err != nil {
		t.Fatalf("correct password: %v", err)
	}
	token, err := client.ExportSession()
	if err != nil || token != "authed" {
		t.Errorf("ExportSession = %q, %v", token, err)
	}
}

func TestGatewayImportContacts(t *testing.T) {
	first := "Alice"
	dial, _ := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		users := make([]ImportedUser, len(req.Contacts))
		for i, c := range req.Contacts {
			users[i] = ImportedUser{ID: c.ClientTag, AccessToken: "tok", FirstName: &first, Phone: c.Phone}
		}
		_ = json.NewEncoder(w).Encode(gatewayResponse{OK: true, Users: users})
	})

	client := dial(1, "h", "tok")
	users, err := client.ImportContacts(context.Background(), []Contact{
		{ClientTag: 0, Phone: "+15550000000", FirstName: "Alice"},
		{ClientTag: 1, Phone: "+15550000001", FirstName: "Bob"},
	})
	if err != nil {
		t.Fatalf("ImportContacts: %v", err)
	}
	if len(users) != 2 || users[1].ID != 1 || users[1].Phone != "+15550000001" {
		t.Errorf("users = %+v", users)
	}
}

func TestGatewayUnavailable(t *testing.T) {
	orig := retryBackoff
	retryBackoff = time.Millisecond
	t.Cleanup(func() { retryBackoff = orig })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dial := NewDialer(Config{BaseURL: srv.URL, Timeout: time.Second})
	srv.Close()

	client := dial(1, "h", "")
	err := client.Connect(context.Background())
	if KindOf(err) != KindUnavailable {
		t.Errorf("KindOf = %v, want KindUnavailable, err = %v", KindOf(err), err)
	}
}
