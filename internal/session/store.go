package session

import (
	"context"
	"sync"
	"time"

	"contactbot/core/logger"
	"contactbot/internal/platform"
	"log/slog"
)

// Store persists the complete user→token mapping as one checkpoint.
// SaveAll replaces prior contents; it is never incremental.
type Store interface {
	SaveAll(ctx context.Context, tokens map[int64]string) error
	LoadAll(ctx context.Context) (map[int64]string, error)
}

var checkpointMu sync.Mutex

// Checkpoint serializes every live connection's session token and writes the
// whole mapping to the store. A token that fails to serialize is logged and
// skipped so one bad session cannot block saving the rest. Concurrent
// checkpoints are serialized to avoid interleaved full-store rewrites.
func Checkpoint(ctx context.Context, reg *Registry, store Store) error {
	checkpointMu.Lock()
	defer checkpointMu.Unlock()

	start := time.Now()
	tokens := make(map[int64]string)
	reg.Range(func(userID int64, e *Entry) bool {
		client := e.Client()
		if client == nil {
			return true
		}
		token, err := client.ExportSession()
		if err != nil {
			logger.SVCSessions.Warn("session export failed",
				slog.String("event", "checkpoint.skip"),
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
			return true
		}
		tokens[userID] = token
		return true
	})

	if err := store.SaveAll(ctx, tokens); err != nil {
		logger.SVCSessions.Error("checkpoint failed",
			slog.String("event", "checkpoint"),
			slog.Int("sessions", len(tokens)),
			slog.String("err", err.Error()),
		)
		return err
	}

	logger.SVCSessions.Info("checkpoint written",
		slog.String("event", "checkpoint"),
		slog.Int("sessions", len(tokens)),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return nil
}

// Restore loads all persisted tokens and reconstructs a client per entry,
// bound to its token but without establishing connectivity yet. It returns
// the restored user ids so the caller can mark them authenticated.
func Restore(ctx context.Context, reg *Registry, store Store, dial platform.Dialer, appID int, appHash string) ([]int64, error) {
	tokens, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(tokens))
	for userID, token := range tokens {
		reg.Put(&Entry{
			UserID: userID,
			client: dial(appID, appHash, token),
		})
		ids = append(ids, userID)
	}

	logger.SVCSessions.Info("sessions restored",
		slog.String("event", "restore"),
		slog.Int("sessions", len(ids)),
	)
	return ids, nil
}
