package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contactbot/core/logger"
	"contactbot/core/telegram/format"
	"contactbot/internal/platform"
	"log/slog"
)

const (
	// DefaultBatchSize bounds one import call toward the remote platform.
	DefaultBatchSize = 30
	// DefaultPause is the courtesy delay between successful batches.
	DefaultPause = 10 * time.Second
)

// ErrNoContacts is returned when a file yields zero valid contacts.
var ErrNoContacts = errors.New("importer: no valid contacts")

// sleep is swapped in tests to avoid real pauses.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Options tune the pipeline; zero values select the defaults.
type Options struct {
	BatchSize int
	Pause     time.Duration
}

// Imported is one successfully imported remote user.
type Imported struct {
	ID          int64
	AccessToken string
	Name        string
	Phone       string
}

// Summary accumulates the pipeline outcome across all batches.
type Summary struct {
	Imported []Imported
	Failed   []Contact
	Batches  int
}

// Notify emits a progress message toward the user.
type Notify func(text string)

// Run imports contacts in sequential fixed-size batches, preserving input
// order. A failed batch is recorded whole and does not stop later batches.
func Run(ctx context.Context, client platform.Client, contacts []Contact, opts Options, notify Notify) (Summary, error) {
	if len(contacts) == 0 {
		return Summary{}, ErrNoContacts
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Pause <= 0 {
		opts.Pause = DefaultPause
	}
	if notify == nil {
		notify = func(string) {}
	}

	batches := partition(contacts, opts.BatchSize)
	summary := Summary{Batches: len(batches)}

	for i, batch := range batches {
		req := make([]platform.Contact, len(batch))
		for j, contact := range batch {
			first, last := splitName(contact.Name)
			req[j] = platform.Contact{
				ClientTag: int64(i*opts.BatchSize + j),
				Phone:     contact.Phone,
				FirstName: first,
				LastName:  last,
			}
		}

		users, err := client.ImportContacts(ctx, req)
		if err != nil {
			summary.Failed = append(summary.Failed, batch...)
			notify(fmt.Sprintf("Batch %d/%d failed: %v", i+1, len(batches), err))
			logger.SVCImport.Warn("batch failed",
				slog.String("event", "import.batch"),
				slog.Int("batch", i+1),
				slog.Int("contacts", len(batch)),
				slog.String("err", err.Error()),
			)
			continue
		}

		for _, u := range users {
			summary.Imported = append(summary.Imported, Imported{
				ID:          u.ID,
				AccessToken: u.AccessToken,
				Name:        format.DerefString(u.FirstName, "Unknown"),
				Phone:       u.Phone,
			})
		}
		notify(fmt.Sprintf("Batch %d/%d imported (%d contacts).", i+1, len(batches), len(batch)))
		logger.SVCImport.Debug("batch imported",
			slog.String("event", "import.batch"),
			slog.Int("batch", i+1),
			slog.Int("contacts", len(batch)),
		)

		if i < len(batches)-1 {
			if err := sleep(ctx, opts.Pause); err != nil {
				return summary, err
			}
		}
	}

	notify(fmt.Sprintf("Import finished: %d contacts imported, %d failed.",
		len(summary.Imported), len(summary.Failed)))
	logger.SVCImport.Info("import finished",
		slog.String("event", "import.summary"),
		slog.Int("batches", summary.Batches),
		slog.Int("imported", len(summary.Imported)),
		slog.Int("failed", len(summary.Failed)),
	)
	return summary, nil
}

func partition(contacts []Contact, size int) [][]Contact {
	var batches [][]Contact
	for start := 0; start < len(contacts); start += size {
		end := start + size
		if end > len(contacts) {
			end = len(contacts)
		}
		batches = append(batches, contacts[start:end])
	}
	return batches
}

func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
