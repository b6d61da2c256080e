package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"contactbot/core/logger"
	"contactbot/core/telegram/callbacks"
	"contactbot/core/telegram/format"
	tghelpers "contactbot/core/telegram/helpers"
	"contactbot/core/telegram/keyboard"
	"contactbot/core/telegram/state"
	"contactbot/internal/auth"
	"contactbot/internal/importer"
	"contactbot/internal/session"

	"github.com/google/uuid"
	"log/slog"
	tele "gopkg.in/telebot.v4"
)

const callbackCancel = "auth_cancel"

const helpText = "This bot logs you into the messaging platform and imports contacts.\n\n" +
	"1. Send /start and follow the prompts (API_ID, API_HASH, phone, login code).\n" +
	"2. Once logged in, upload a .vcf contact file to import it.\n\n" +
	"/status shows your current step, /cancel aborts the login flow."

// registerFlowHandlers binds every flow state to the shared FSM adapter so
// the message router can dispatch in-progress conversations.
func (a *App) registerFlowHandlers() {
	for _, st := range auth.All {
		state.RegisterHandler(st, a.flowUpdate)
	}
}

// flowUpdate adapts one routed update (text or document) to the flow.
func (a *App) flowUpdate(c tele.Context) error {
	userID := c.Sender().ID
	ctx := tghelpers.BuildContext(c)

	if msg := c.Message(); msg != nil && msg.Document != nil {
		if a.flow.Authenticated(userID) {
			return a.handleDocument(c)
		}
		return tghelpers.SendText(c, "Finish logging in before uploading a file.")
	}

	reply := func(text string) error { return tghelpers.SendText(c, text) }
	return a.flow.Submit(ctx, userID, strings.TrimSpace(c.Text()), reply)
}

func (a *App) handleStart(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if err := a.flow.Start(ctx, c.Sender().ID); err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			return tghelpers.SendText(c, "The bot is at capacity right now. Please try again later.")
		}
		return err
	}
	return tghelpers.SendMD(c, auth.MsgWelcome, keyboard.SingleCancelMarkup(callbackCancel))
}

func (a *App) handleHelp(c tele.Context) error {
	return tghelpers.SendText(c, helpText)
}

func (a *App) handleCancel(c tele.Context) error {
	userID := c.Sender().ID
	if !a.states.HasState(userID) {
		return tghelpers.SendText(c, "Nothing to cancel. Send /start to begin.")
	}
	return a.flow.Cancel(userID, func(text string) error {
		return tghelpers.SendText(c, text)
	})
}

func (a *App) handleCancelCallback(c tele.Context) error {
	if callbacks.CallbackPayload(c) != "cancel" {
		return nil
	}
	return a.handleCancel(c)
}

func (a *App) handleStatus(c tele.Context) error {
	userID := c.Sender().ID
	if !a.states.HasState(userID) {
		return tghelpers.SendText(c, "No active login. Send /start to begin.")
	}

	st := a.flow.State(userID)
	text := fmt.Sprintf("Current step: *%s*", st)
	if e, ok := a.reg.Get(userID); ok && e.Phone() != "" {
		phone, err := format.EscapeMarkdown(e.Phone(), format.MarkdownV1, "")
		if err == nil {
			text += fmt.Sprintf("\nPhone: %s", phone)
		}
	}
	return tghelpers.SendMD(c, text)
}

func (a *App) handleUploadVCF(c tele.Context) error {
	if !a.flow.Authenticated(c.Sender().ID) {
		return tghelpers.SendText(c, "You must be logged in to import contacts. Send /start.")
	}
	return tghelpers.SendText(c, "Upload a .vcf contact file and I will import it in batches.")
}

func (a *App) handleSessions(c tele.Context) error {
	total := a.reg.Len()
	authed := 0
	a.reg.Range(func(userID int64, _ *session.Entry) bool {
		if a.flow.Authenticated(userID) {
			authed++
		}
		return true
	})
	return tghelpers.SendText(c, fmt.Sprintf("Sessions: %d active, %d authenticated.", total, authed))
}

// fallbacks answers updates that match no command, flow state or callback.
type fallbacks struct{ a *App }

func (f fallbacks) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, "I didn't understand that. Send /start to begin, or /help.")
	}
}

func (f fallbacks) UnknownDocument() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, "You must be logged in to import contacts. Send /start.")
	}
}

func (f fallbacks) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, "That button has expired. Send /start to begin again.")
	}
}

// handleDocument materializes the upload, parses it and runs the batched
// import pipeline against the user's authenticated connection.
func (a *App) handleDocument(c tele.Context) error {
	userID := c.Sender().ID
	ctx := tghelpers.WithHandler(c, "import")

	client, ok := a.flow.Client(userID)
	if !ok || !a.flow.Authenticated(userID) {
		return tghelpers.SendText(c, "You must be logged in to import contacts. Send /start.")
	}

	doc := c.Message().Document
	if !isContactCard(doc) {
		return tghelpers.SendText(c, "Please upload a .vcf contact file.")
	}
	if a.cfg.Import.MaxFileBytes > 0 && int64(doc.FileSize) > a.cfg.Import.MaxFileBytes {
		return tghelpers.SendText(c, fmt.Sprintf("File is too large (limit %d bytes).", a.cfg.Import.MaxFileBytes))
	}

	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("contacts-%s.vcf", uuid.NewString()))
	if err := c.Bot().Download(&doc.File, tmpPath); err != nil {
		logger.SVCImport.Error("download failed",
			slog.String("event", "import.download"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return tghelpers.SendText(c, "Could not download the file. Please try again.")
	}
	defer func() { _ = os.Remove(tmpPath) }()

	file, err := os.Open(tmpPath)
	if err != nil {
		return tghelpers.SendText(c, "Could not read the file. Please try again.")
	}
	contacts, parseErr := importer.ParseVCF(file)
	_ = file.Close()
	if parseErr != nil {
		return tghelpers.SendText(c, fmt.Sprintf("Could not parse the contact file: %v", parseErr))
	}
	if len(contacts) == 0 {
		return tghelpers.SendText(c, "No valid contacts found in the file.")
	}

	if err := tghelpers.SendText(c, fmt.Sprintf("Importing %d contacts...", len(contacts))); err != nil {
		return err
	}

	notify := func(text string) { _ = tghelpers.SendText(c, text) }
	opts := importer.Options{
		BatchSize: a.cfg.Import.BatchSize,
		Pause:     time.Duration(a.cfg.Import.PauseSeconds) * time.Second,
	}
	if _, err := importer.Run(ctx, client, contacts, opts, notify); err != nil {
		return tghelpers.SendText(c, fmt.Sprintf("Import interrupted: %v", err))
	}
	a.reg.Touch(userID)
	return nil
}

func isContactCard(doc *tele.Document) bool {
	if doc == nil {
		return false
	}
	if strings.HasSuffix(strings.ToLower(doc.FileName), ".vcf") {
		return true
	}
	switch strings.ToLower(doc.MIME) {
	case "text/vcard", "text/x-vcard":
		return true
	}
	return false
}
