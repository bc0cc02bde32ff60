package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"drainbot/internal/config"
	"drainbot/internal/db"
	"drainbot/internal/format"
	"drainbot/internal/pixeldrain"
	"drainbot/internal/relay"
	"drainbot/internal/telegram"
)

const (
	startText  = "Hello %s,\nReady to share some media? Send a file to get a Pixeldrain stream link, or drop a Pixeldrain media ID or link to get the scoop on your file!"
	unauthText = "Sorry, you are not authorized to use this bot. Please contact the bot owner for access."
)

// AuthStore is the authorization gate consulted before any relay or metadata
// request is allowed to run.
type AuthStore interface {
	IsAuthorized(ctx context.Context, userID int64) (bool, error)
	Authorize(ctx context.Context, userID int64, username string) error
	Revoke(ctx context.Context, userID int64) (bool, error)
	List(ctx context.Context) ([]db.AuthorizedUser, error)
}

// Bot coordinates Telegram updates, the authorization gate, and the relay.
type Bot struct {
	cfg    config.Config
	store  AuthStore
	tg     *telegram.Client
	pd     *pixeldrain.Client
	runner *relay.Runner
	logger zerolog.Logger
}

// New creates a bot instance. The relay runner is constructed here so its
// completion callback can render metadata cards through the bot's views.
func New(cfg config.Config, store AuthStore, tg *telegram.Client, pd *pixeldrain.Client, logger zerolog.Logger) *Bot {
	b := &Bot{
		cfg:    cfg,
		store:  store,
		tg:     tg,
		pd:     pd,
		logger: logger,
	}
	b.runner = relay.NewRunner(tg, pd, b.reportFile, logger.With().Str("component", "relay").Logger(), relay.Options{
		DownloadDir:      cfg.DownloadDir,
		MaxConcurrent:    cfg.MaxConcurrentUploads,
		ProgressInterval: cfg.ProgressInterval,
		ProgressMinSize:  cfg.ProgressMinSize,
	})
	return b
}

// Run starts polling and handling updates. It returns once ctx is cancelled;
// call Drain afterwards to let in-flight transfers finish.
func (b *Bot) Run(ctx context.Context) error {
	offset := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		updates, err := b.tg.GetUpdates(ctx, offset, int(b.cfg.PollTimeout.Seconds()))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error().Err(err).Msg("getUpdates error")
			time.Sleep(2 * time.Second)
			continue
		}
		for _, upd := range updates {
			offset = upd.UpdateID + 1
			if upd.Message != nil {
				b.handleMessage(ctx, upd.Message)
			}
		}
	}
}

// Drain waits for background transfers to reach a terminal phase.
func (b *Bot) Drain() {
	b.runner.Wait()
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	if msg == nil || msg.From == nil {
		return
	}
	userID := msg.From.ID

	if msg.Text != "" {
		cmd := command(msg.Text)
		switch cmd {
		case "/start":
			b.handleStart(ctx, msg)
			return
		case "/auth":
			b.handleAuth(ctx, msg)
			return
		case "/unauth":
			b.handleUnauth(ctx, msg)
			return
		case "/auths":
			b.handleAuths(ctx, msg)
			return
		case "/pdup":
			b.handleGroupUpload(ctx, msg)
			return
		}
	}

	if msg.Chat.Type != "private" {
		return
	}

	ok, err := b.store.IsAuthorized(ctx, userID)
	if err != nil {
		b.logger.Error().Err(err).Int64("user", userID).Msg("authorization lookup failed")
		return
	}
	if !ok {
		b.sendUnauthorized(ctx, msg)
		return
	}

	if msg.Text != "" {
		b.handleInfoRequest(ctx, msg)
		return
	}
	if file := extractFile(msg); file != nil {
		b.startRelay(ctx, msg, file)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *telegram.Message) {
	if msg.Chat.Type != "private" {
		return
	}
	ok, err := b.store.IsAuthorized(ctx, msg.From.ID)
	if err != nil {
		b.logger.Error().Err(err).Msg("authorization lookup failed")
		return
	}
	if !ok {
		b.sendUnauthorized(ctx, msg)
		return
	}
	name := msg.From.FirstName
	if name == "" {
		name = strconv.FormatInt(msg.From.ID, 10)
	}
	text := fmt.Sprintf(startText, name)
	_, _ = b.tg.SendMessage(ctx, msg.Chat.ID, text, msg.MessageID, b.contactKeyboard())
}

func (b *Bot) handleAuth(ctx context.Context, msg *telegram.Message) {
	if !b.requireOwner(ctx, msg) {
		return
	}
	userID, ok := targetUser(msg)
	if !ok {
		b.sendText(ctx, msg.Chat.ID, "Usage: /auth <user_id> or reply to a user's message with /auth")
		return
	}
	username := b.lookupUsername(ctx, msg.Chat.ID, userID)
	already, err := b.store.IsAuthorized(ctx, userID)
	if err != nil {
		b.sendText(ctx, msg.Chat.ID, fmt.Sprintf("Authorize failed: %v", err))
		return
	}
	if err := b.store.Authorize(ctx, userID, username); err != nil {
		b.sendText(ctx, msg.Chat.ID, fmt.Sprintf("Authorize failed: %v", err))
		return
	}
	if already {
		b.sendText(ctx, msg.Chat.ID, fmt.Sprintf("User %d (@%s) is already authorized.", userID, orNoUsername(username)))
		return
	}
	b.sendText(ctx, msg.Chat.ID, fmt.Sprintf("User %d (@%s) has been authorized.", userID, orNoUsername(username)))
}

func (b *Bot) handleUnauth(ctx context.Context, msg *telegram.Message) {
	if !b.requireOwner(ctx, msg) {
		return
	}
	userID, ok := targetUser(msg)
	if !ok {
		b.sendText(ctx, msg.Chat.ID, "Usage: /unauth <user_id> or reply to a user's message with /unauth")
		return
	}
	existed, err := b.store.Revoke(ctx, userID)
	if err != nil {
		b.sendText(ctx, msg.Chat.ID, fmt.Sprintf("Unauthorize failed: %v", err))
		return
	}
	if !existed {
		b.sendText(ctx, msg.Chat.ID, fmt.Sprintf("User %d is not found.", userID))
		return
	}
	b.sendText(ctx, msg.Chat.ID, fmt.Sprintf("User %d has been unauthorized.", userID))
}

func (b *Bot) handleAuths(ctx context.Context, msg *telegram.Message) {
	if !b.requireOwner(ctx, msg) {
		return
	}
	users, err := b.store.List(ctx)
	if err != nil {
		b.sendText(ctx, msg.Chat.ID, fmt.Sprintf("List failed: %v", err))
		return
	}
	var sb strings.Builder
	sb.WriteString("Authorized Users:\n")
	for _, u := range users {
		sb.WriteString(fmt.Sprintf("%d (@%s)\n", u.UserID, orNoUsername(u.Username)))
	}
	b.sendText(ctx, msg.Chat.ID, sb.String())
}

// handleGroupUpload relays media from a replied-to group message via /pdup.
func (b *Bot) handleGroupUpload(ctx context.Context, msg *telegram.Message) {
	if msg.Chat.Type == "private" {
		return
	}
	ok, err := b.store.IsAuthorized(ctx, msg.From.ID)
	if err != nil || !ok {
		return
	}
	replied := msg.ReplyToMessage
	if replied == nil {
		b.sendText(ctx, msg.Chat.ID, "Please reply to a valid media message with /pdup to upload.")
		return
	}
	file := extractFile(replied)
	if file == nil {
		b.sendText(ctx, msg.Chat.ID, "Please reply to a valid media message with /pdup to upload.")
		return
	}
	b.startRelay(ctx, replied, file)
}

// handleInfoRequest answers a pasted pixeldrain ID or link with a metadata
// card. Text that is not an identifier is ignored without a reply.
func (b *Bot) handleInfoRequest(ctx context.Context, msg *telegram.Message) {
	id, ok := pixeldrain.ExtractID(msg.Text)
	if !ok {
		return
	}
	placeholder, err := b.tg.SendMessage(ctx, msg.Chat.ID, "Processing...", msg.MessageID, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("placeholder send failed")
		return
	}
	b.reportFile(ctx, msg.Chat.ID, placeholder.MessageID, id)
}

func (b *Bot) startRelay(ctx context.Context, msg *telegram.Message, file *incomingFile) {
	principal := int64(0)
	if msg.From != nil {
		principal = msg.From.ID
	}
	job := &relay.Job{
		Principal: principal,
		ChatID:    msg.Chat.ID,
		ReplyTo:   msg.MessageID,
		FileID:    file.FileID,
		FileName:  file.Name,
		Declared:  file.Size,
	}
	b.runner.Submit(ctx, job)
	b.logger.Info().Str("job", job.ID).Int64("principal", principal).Str("file", file.Name).Msg("relay scheduled")
}

// reportFile replaces the placeholder with the remote file's metadata card.
// Fetch failures render a generic message; the raw error never reaches chat.
func (b *Bot) reportFile(ctx context.Context, chatID int64, messageID int, fileID string) {
	info, err := b.pd.FileInfo(ctx, fileID)
	var text string
	if err != nil {
		b.logger.Warn().Err(err).Str("file_id", fileID).Msg("file info fetch failed")
		text = "Failed to retrieve file information."
	} else {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("File Name: %s\n", info.Name))
		sb.WriteString(fmt.Sprintf("Upload Date: %s\n", format.Date(info.DateUpload)))
		sb.WriteString(fmt.Sprintf("File Size: %s\n", format.Bytes(info.Size)))
		sb.WriteString(fmt.Sprintf("File Type: %s", info.MimeType))
		if info.Views > 0 {
			sb.WriteString(fmt.Sprintf("\nViews: %d", info.Views))
		}
		if info.BandwidthUsed > 0 {
			sb.WriteString(fmt.Sprintf("\nBandwidth Used: %s", format.Bytes(info.BandwidthUsed)))
		}
		text = sb.String()
	}
	if _, err := b.tg.EditMessageText(ctx, chatID, messageID, text, b.fileKeyboard(fileID)); err != nil {
		b.logger.Warn().Err(err).Msg("report edit failed")
	}
}

func (b *Bot) fileKeyboard(fileID string) *telegram.InlineKeyboardMarkup {
	view := b.pd.ViewURL(fileID)
	rows := [][]telegram.InlineKeyboardButton{
		{
			{Text: "Open Link", URL: view},
			{Text: "Direct Link", URL: b.pd.DirectURL(fileID)},
		},
		{
			{Text: "Share Link", URL: fmt.Sprintf("https://telegram.me/share/url?url=%s", view)},
		},
	}
	if btn, ok := b.contactButton(); ok {
		rows = append(rows, []telegram.InlineKeyboardButton{btn})
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (b *Bot) contactButton() (telegram.InlineKeyboardButton, bool) {
	if b.cfg.OwnerContactURL == "" {
		return telegram.InlineKeyboardButton{}, false
	}
	return telegram.InlineKeyboardButton{Text: "Contact Owner", URL: b.cfg.OwnerContactURL}, true
}

func (b *Bot) contactKeyboard() *telegram.InlineKeyboardMarkup {
	btn, ok := b.contactButton()
	if !ok {
		return nil
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{btn}}}
}

func (b *Bot) sendUnauthorized(ctx context.Context, msg *telegram.Message) {
	_, _ = b.tg.SendMessage(ctx, msg.Chat.ID, unauthText, msg.MessageID, b.contactKeyboard())
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text string) {
	_, _ = b.tg.SendMessage(ctx, chatID, text, 0, nil)
}

// requireOwner gates owner-only commands and refuses everyone else.
func (b *Bot) requireOwner(ctx context.Context, msg *telegram.Message) bool {
	if msg.From.ID == b.cfg.OwnerID {
		return true
	}
	b.sendText(ctx, msg.Chat.ID, "You are not authorized to use this command.")
	return false
}

// lookupUsername resolves a user's current username best-effort.
func (b *Bot) lookupUsername(ctx context.Context, chatID, userID int64) string {
	if user, err := b.tg.GetChatMember(ctx, chatID, userID); err == nil {
		return user.Username
	}
	return ""
}

// targetUser resolves the subject of /auth and /unauth: either the sender of
// the replied-to message or an explicit numeric argument.
func targetUser(msg *telegram.Message) (int64, bool) {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		return msg.ReplyToMessage.From.ID, true
	}
	parts := strings.Fields(msg.Text)
	if len(parts) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func orNoUsername(username string) string {
	if username == "" {
		return "No username"
	}
	return username
}

// command extracts the command part of a message, dropping the @botname
// suffix Telegram appends in groups.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	first := strings.Fields(text)[0]
	if i := strings.IndexByte(first, '@'); i >= 0 {
		first = first[:i]
	}
	return first
}

func extractFile(msg *telegram.Message) *incomingFile {
	if msg.Document != nil {
		name := msg.Document.FileName
		if name == "" {
			name = fmt.Sprintf("file_%s", msg.Document.FileUniqueID)
		}
		return &incomingFile{
			Name:     name,
			FileID:   msg.Document.FileID,
			Size:     msg.Document.FileSize,
			MimeType: msg.Document.MimeType,
		}
	}
	if msg.Audio != nil {
		name := msg.Audio.FileName
		if name == "" {
			name = fmt.Sprintf("audio_%s", msg.Audio.FileUniqueID)
		}
		return &incomingFile{
			Name:     name,
			FileID:   msg.Audio.FileID,
			Size:     msg.Audio.FileSize,
			MimeType: msg.Audio.MimeType,
		}
	}
	if msg.Video != nil {
		name := msg.Video.FileName
		if name == "" {
			name = fmt.Sprintf("video_%s.mp4", msg.Video.FileUniqueID)
		}
		return &incomingFile{
			Name:     name,
			FileID:   msg.Video.FileID,
			Size:     msg.Video.FileSize,
			MimeType: msg.Video.MimeType,
		}
	}
	if msg.Voice != nil {
		return &incomingFile{
			Name:     fmt.Sprintf("voice_%s.ogg", msg.Voice.FileUniqueID),
			FileID:   msg.Voice.FileID,
			Size:     msg.Voice.FileSize,
			MimeType: msg.Voice.MimeType,
		}
	}
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		return &incomingFile{
			Name:     fmt.Sprintf("photo_%s.jpg", photo.FileUniqueID),
			FileID:   photo.FileID,
			Size:     photo.FileSize,
			MimeType: "image/jpeg",
		}
	}
	return nil
}

type incomingFile struct {
	Name     string
	FileID   string
	Size     int64
	MimeType string
}
