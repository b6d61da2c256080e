package session

import (
	"context"
	"errors"
	"sort"
	"testing"

	"contactbot/internal/platform"
)

// memStore keeps checkpoints in memory and can simulate save failures.
type memStore struct {
	tokens  map[int64]string
	saveErr error
	saves   int
}

func (s *memStore) SaveAll(_ context.Context, tokens map[int64]string) error {
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.tokens = make(map[int64]string, len(tokens))
	for id, token := range tokens {
		s.tokens[id] = token
	}
	return nil
}

func (s *memStore) LoadAll(context.Context) (map[int64]string, error) {
	out := make(map[int64]string, len(s.tokens))
	for id, token := range s.tokens {
		out[id] = token
	}
	return out, nil
}

func TestCheckpointSkipsBrokenExports(t *testing.T) {
	reg := NewRegistry(0)

	good, _ := reg.Begin(1)
	good.SetClient(&stubClient{token: "tok-1"})
	broken, _ := reg.Begin(2)
	broken.SetClient(&stubClient{exportErr: errors.New("disconnected")})
	pending, _ := reg.Begin(3)
	_ = pending // no client yet, still collecting credentials

	store := &memStore{}
	if err := Checkpoint(context.Background(), reg, store); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if len(store.tokens) != 1 || store.tokens[1] != "tok-1" {
		t.Errorf("stored tokens = %v, want only 1:tok-1", store.tokens)
	}
}

func TestCheckpointPropagatesSaveError(t *testing.T) {
	reg := NewRegistry(0)
	e, _ := reg.Begin(1)
	e.SetClient(&stubClient{token: "tok"})

	wantErr := errors.New("disk full")
	err := Checkpoint(context.Background(), reg, &memStore{saveErr: wantErr})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Checkpoint error = %v, want %v", err, wantErr)
	}
}

// A handler attaching a connection must not race a checkpoint walking the
// registry; run with -race.
func TestCheckpointConcurrentWithClientAttach(t *testing.T) {
	reg := NewRegistry(0)
	attaching, _ := reg.Begin(1)
	settled, _ := reg.Begin(2)
	settled.SetClient(&stubClient{token: "tok-2"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			attaching.SetClient(&stubClient{token: "tok-1"})
			attaching.SetClient(nil)
		}
	}()

	store := &memStore{}
	for i := 0; i < 200; i++ {
		if err := Checkpoint(context.Background(), reg, store); err != nil {
			t.Fatalf("Checkpoint: %v", err)
		}
	}
	<-done

	if store.tokens[2] != "tok-2" {
		t.Errorf("stored tokens = %v, want 2:tok-2 present", store.tokens)
	}
}

func TestRestoreRebuildsClients(t *testing.T) {
	store := &memStore{tokens: map[int64]string{10: "tok-10", 20: "tok-20"}}
	reg := NewRegistry(0)

	var dialed []string
	dial := func(appID int, appHash, session string) platform.Client {
		dialed = append(dialed, session)
		return &stubClient{token: session}
	}

	ids, err := Restore(context.Background(), reg, store, dial, 12345, "hash")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 20 {
		t.Fatalf("restored ids = %v", ids)
	}
	if len(dialed) != 2 {
		t.Fatalf("dialer called %d times, want 2", len(dialed))
	}

	e, ok := reg.Get(10)
	if !ok || e.Client() == nil {
		t.Fatal("entry 10 missing or without client")
	}
	token, _ := e.Client().ExportSession()
	if token != "tok-10" {
		t.Errorf("restored token = %q, want tok-10", token)
	}
}

func TestRestoreEmptyStore(t *testing.T) {
	reg := NewRegistry(0)
	dial := func(int, string, string) platform.Client { return &stubClient{} }

	ids, err := Restore(context.Background(), reg, &memStore{}, dial, 1, "h")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(ids) != 0 || reg.Len() != 0 {
		t.Errorf("ids = %v, Len = %d, want empty", ids, reg.Len())
	}
}
