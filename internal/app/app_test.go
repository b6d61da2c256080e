package app

import (
	"context"
	"os"
	"testing"

	"contactbot/core/logger"
	coretelegram "contactbot/core/telegram"
	"contactbot/internal/session"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

// ctxStore records the liveness of the context each save arrives with.
type ctxStore struct {
	saves      int
	saveCtxErr error
}

func (s *ctxStore) SaveAll(ctx context.Context, _ map[int64]string) error {
	s.saves++
	s.saveCtxErr = ctx.Err()
	return ctx.Err()
}

func (s *ctxStore) LoadAll(context.Context) (map[int64]string, error) {
	return map[int64]string{}, nil
}

// Shutdown arrives with the signal context already canceled; the final
// checkpoint must still reach the store with a live context.
func TestOnStopCheckpointsWithLiveContext(t *testing.T) {
	store := &ctxStore{}
	a := &App{
		reg:   session.NewRegistry(0),
		store: store,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.onStop(ctx, coretelegram.Runtime{}); err != nil {
		t.Fatalf("onStop: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}
	if store.saveCtxErr != nil {
		t.Errorf("checkpoint context canceled: %v", store.saveCtxErr)
	}
}
