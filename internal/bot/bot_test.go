package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drainbot/internal/config"
	"drainbot/internal/db"
	"drainbot/internal/pixeldrain"
	"drainbot/internal/telegram"
)

// tgFake is a minimal Bot API server recording sendMessage/editMessageText
// payloads. getFile and the file endpoint serve fileBody so relay jobs can
// run end to end.
type tgFake struct {
	mu       sync.Mutex
	sends    []map[string]any
	edits    []map[string]any
	fileBody string
	srv      *httptest.Server
}

func newTGFake(t *testing.T) *tgFake {
	t.Helper()
	f := &tgFake{fileBody: "media bytes"}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/file/") {
			_, _ = w.Write([]byte(f.fileBody))
			return
		}
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		f.mu.Lock()
		defer f.mu.Unlock()
		switch method {
		case "sendMessage":
			f.sends = append(f.sends, payload)
			fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d}}`, 1000+len(f.sends))
		case "editMessageText":
			f.edits = append(f.edits, payload)
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":1}}`)
		case "getFile":
			fmt.Fprintf(w, `{"ok":true,"result":{"file_id":"f1","file_path":"media/remote.bin","file_size":%d}}`, len(f.fileBody))
		default:
			fmt.Fprint(w, `{"ok":true,"result":{}}`)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// pdFake is a pixeldrain server accepting one multipart upload and serving
// the uploaded file's metadata.
type pdFake struct {
	mu       sync.Mutex
	field    string
	filename string
	content  []byte
	srv      *httptest.Server
}

func newPDFake(t *testing.T) *pdFake {
	t.Helper()
	f := &pdFake{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/file":
			mr, err := r.MultipartReader()
			require.NoError(t, err)
			part, err := mr.NextPart()
			require.NoError(t, err)
			body, err := io.ReadAll(part)
			require.NoError(t, err)
			f.mu.Lock()
			f.field = part.FormName()
			f.filename = part.FileName()
			f.content = body
			f.mu.Unlock()
			fmt.Fprint(w, `{"id":"pd123","success":true}`)
		case r.URL.Path == "/api/file/pd123/info":
			fmt.Fprint(w, `{"id":"pd123","name":"clip.mp4","size":11,"mime_type":"video/mp4","date_upload":"2024-05-01T10:00:00.000Z"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *tgFake) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.sends {
		if s, ok := p["text"].(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (f *tgFake) editedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.edits {
		if s, ok := p["text"].(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func newTestBot(t *testing.T, tgURL, pdURL string) (*Bot, *db.Store) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Config{
		BotToken:             "123:abc",
		TelegramAPIURL:       tgURL,
		PixeldrainAPIKey:     "pd-key",
		PixeldrainAPIURL:     pdURL,
		OwnerID:              999,
		DownloadDir:          t.TempDir(),
		PollTimeout:          time.Second,
		MaxConcurrentUploads: 2,
	}
	tg := telegram.NewClient(cfg.BotToken, cfg.TelegramAPIURL, cfg.PollTimeout)
	pd := pixeldrain.NewClient(cfg.PixeldrainAPIKey, cfg.PixeldrainAPIURL, 0)
	return New(cfg, store, tg, pd, zerolog.Nop()), store
}

func privateText(userID int64, text string) *telegram.Message {
	return &telegram.Message{
		MessageID: 5,
		From:      &telegram.User{ID: userID, FirstName: "Alice", Username: "alice"},
		Chat:      telegram.Chat{ID: userID, Type: "private"},
		Text:      text,
	}
}

func TestUnauthorizedUserIsRefused(t *testing.T) {
	tgf := newTGFake(t)
	b, _ := newTestBot(t, tgf.srv.URL, tgf.srv.URL)

	b.handleMessage(context.Background(), privateText(5, "abc123"))

	texts := tgf.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "not authorized")
}

func TestStartAuthorized(t *testing.T) {
	tgf := newTGFake(t)
	b, store := newTestBot(t, tgf.srv.URL, tgf.srv.URL)
	require.NoError(t, store.Authorize(context.Background(), 5, "alice"))

	b.handleMessage(context.Background(), privateText(5, "/start"))

	texts := tgf.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Hello Alice")
}

func TestPrivateMediaRelayed(t *testing.T) {
	tgf := newTGFake(t)
	pdf := newPDFake(t)
	b, store := newTestBot(t, tgf.srv.URL, pdf.srv.URL)
	require.NoError(t, store.Authorize(context.Background(), 5, "alice"))

	msg := &telegram.Message{
		MessageID: 5,
		From:      &telegram.User{ID: 5, FirstName: "Alice"},
		Chat:      telegram.Chat{ID: 5, Type: "private"},
		Video:     &telegram.Video{FileID: "v1", FileUniqueID: "u9", FileName: "clip.mp4", FileSize: 11, MimeType: "video/mp4"},
	}
	b.handleMessage(context.Background(), msg)
	b.Drain()

	pdf.mu.Lock()
	defer pdf.mu.Unlock()
	assert.Equal(t, "file", pdf.field)
	assert.Equal(t, "clip_5.mp4", pdf.filename, "staging name embeds the sender")
	assert.Equal(t, "media bytes", string(pdf.content))

	texts := tgf.sentTexts()
	require.NotEmpty(t, texts)
	assert.Equal(t, "Processing...", texts[0])

	edits := tgf.editedTexts()
	assert.Contains(t, edits, "Downloading...")
	assert.Contains(t, edits, "Uploaded Successfully!")
	require.NotEmpty(t, edits)
	assert.Contains(t, edits[len(edits)-1], "File Name: clip.mp4", "placeholder ends as the metadata card")
}

func TestGroupPdupRelaysRepliedMedia(t *testing.T) {
	tgf := newTGFake(t)
	pdf := newPDFake(t)
	b, store := newTestBot(t, tgf.srv.URL, pdf.srv.URL)
	require.NoError(t, store.Authorize(context.Background(), 5, "alice"))

	replied := &telegram.Message{
		MessageID: 40,
		From:      &telegram.User{ID: 7, FirstName: "Bob"},
		Chat:      telegram.Chat{ID: -100200, Type: "supergroup"},
		Video:     &telegram.Video{FileID: "v1", FileUniqueID: "u9", FileName: "clip.mp4", FileSize: 11, MimeType: "video/mp4"},
	}
	cmd := &telegram.Message{
		MessageID:      41,
		From:           &telegram.User{ID: 5, FirstName: "Alice"},
		Chat:           telegram.Chat{ID: -100200, Type: "supergroup"},
		Text:           "/pdup",
		ReplyToMessage: replied,
	}
	b.handleMessage(context.Background(), cmd)
	b.Drain()

	pdf.mu.Lock()
	defer pdf.mu.Unlock()
	assert.Equal(t, "file", pdf.field)
	assert.Equal(t, "clip_7.mp4", pdf.filename, "the replied sender owns the transfer")
	assert.Equal(t, "media bytes", string(pdf.content))
	assert.Contains(t, tgf.editedTexts(), "Uploaded Successfully!")
}

func TestGroupPdupRequiresMediaReply(t *testing.T) {
	tgf := newTGFake(t)
	b, store := newTestBot(t, tgf.srv.URL, tgf.srv.URL)
	require.NoError(t, store.Authorize(context.Background(), 5, "alice"))

	group := telegram.Chat{ID: -100200, Type: "supergroup"}
	noReply := &telegram.Message{MessageID: 41, From: &telegram.User{ID: 5}, Chat: group, Text: "/pdup"}
	b.handleMessage(context.Background(), noReply)

	textReply := &telegram.Message{
		MessageID:      42,
		From:           &telegram.User{ID: 5},
		Chat:           group,
		Text:           "/pdup",
		ReplyToMessage: &telegram.Message{MessageID: 40, From: &telegram.User{ID: 7}, Chat: group, Text: "hello"},
	}
	b.handleMessage(context.Background(), textReply)

	texts := tgf.sentTexts()
	require.Len(t, texts, 2)
	for _, text := range texts {
		assert.Contains(t, text, "reply to a valid media message")
	}
}

func TestAuthsCommand(t *testing.T) {
	tgf := newTGFake(t)
	b, store := newTestBot(t, tgf.srv.URL, tgf.srv.URL)
	require.NoError(t, store.Authorize(context.Background(), 12345, "bob"))
	require.NoError(t, store.Authorize(context.Background(), 777, ""))

	b.handleMessage(context.Background(), privateText(999, "/auths"))

	texts := tgf.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Authorized Users:")
	assert.Contains(t, texts[0], "12345 (@bob)")
	assert.Contains(t, texts[0], "777 (@No username)")
}

func TestInfoRequestRendersCard(t *testing.T) {
	tgf := newTGFake(t)
	pdf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/file/abc123/info", r.URL.Path)
		fmt.Fprint(w, `{"name":"photo.jpg","size":2048,"mime_type":"image/jpeg","date_upload":"2024-03-01T15:04:05.123Z"}`)
	}))
	defer pdf.Close()

	b, store := newTestBot(t, tgf.srv.URL, pdf.URL)
	require.NoError(t, store.Authorize(context.Background(), 5, "alice"))

	b.handleMessage(context.Background(), privateText(5, "https://pixeldra.in/u/abc123"))

	require.Len(t, tgf.sentTexts(), 1, "placeholder sent")
	assert.Equal(t, "Processing...", tgf.sentTexts()[0])

	edits := tgf.editedTexts()
	require.Len(t, edits, 1, "placeholder edited in place")
	assert.Contains(t, edits[0], "File Name: photo.jpg")
	assert.Contains(t, edits[0], "Upload Date: 2024-03-01 15:04:05")
	assert.Contains(t, edits[0], "File Size: 2.00 KB")
	assert.Contains(t, edits[0], "File Type: image/jpeg")
}

func TestInfoRequestFetchFailure(t *testing.T) {
	tgf := newTGFake(t)
	pdf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer pdf.Close()

	b, store := newTestBot(t, tgf.srv.URL, pdf.URL)
	require.NoError(t, store.Authorize(context.Background(), 5, "alice"))

	b.handleMessage(context.Background(), privateText(5, "abc123"))

	edits := tgf.editedTexts()
	require.Len(t, edits, 1)
	assert.Equal(t, "Failed to retrieve file information.", edits[0])
}

func TestNonIdentifierTextIgnored(t *testing.T) {
	tgf := newTGFake(t)
	b, store := newTestBot(t, tgf.srv.URL, tgf.srv.URL)
	require.NoError(t, store.Authorize(context.Background(), 5, "alice"))

	b.handleMessage(context.Background(), privateText(5, "some/odd/path"))

	assert.Empty(t, tgf.sentTexts(), "non-identifiers are silently ignored")
}

func TestOwnerAuthCommand(t *testing.T) {
	tgf := newTGFake(t)
	b, store := newTestBot(t, tgf.srv.URL, tgf.srv.URL)

	owner := privateText(999, "/auth 12345")
	b.handleMessage(context.Background(), owner)

	ok, err := store.IsAuthorized(context.Background(), 12345)
	require.NoError(t, err)
	assert.True(t, ok)

	texts := tgf.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "has been authorized")

	// Second /auth is an idempotent upsert.
	b.handleMessage(context.Background(), privateText(999, "/auth 12345"))
	texts = tgf.sentTexts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "already authorized")
}

func TestAuthCommandNonOwner(t *testing.T) {
	tgf := newTGFake(t)
	b, store := newTestBot(t, tgf.srv.URL, tgf.srv.URL)

	b.handleMessage(context.Background(), privateText(5, "/auth 12345"))

	ok, err := store.IsAuthorized(context.Background(), 12345)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, tgf.sentTexts(), 1)
	assert.Contains(t, tgf.sentTexts()[0], "not authorized to use this command")
}

func TestUnauthCommand(t *testing.T) {
	tgf := newTGFake(t)
	b, store := newTestBot(t, tgf.srv.URL, tgf.srv.URL)
	require.NoError(t, store.Authorize(context.Background(), 12345, "bob"))

	b.handleMessage(context.Background(), privateText(999, "/unauth 12345"))
	ok, err := store.IsAuthorized(context.Background(), 12345)
	require.NoError(t, err)
	assert.False(t, ok)

	b.handleMessage(context.Background(), privateText(999, "/unauth 12345"))
	texts := tgf.sentTexts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "not found")
}

func TestCommandParsing(t *testing.T) {
	assert.Equal(t, "/auth", command("/auth 123"))
	assert.Equal(t, "/pdup", command("/pdup@drain_bot"))
	assert.Equal(t, "/start", command("/start share_x"))
	assert.Equal(t, "", command("hello"))
}

func TestTargetUser(t *testing.T) {
	id, ok := targetUser(&telegram.Message{Text: "/auth 42"})
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	id, ok = targetUser(&telegram.Message{
		Text:           "/auth",
		ReplyToMessage: &telegram.Message{From: &telegram.User{ID: 7}},
	})
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	_, ok = targetUser(&telegram.Message{Text: "/auth"})
	assert.False(t, ok)

	_, ok = targetUser(&telegram.Message{Text: "/auth bogus"})
	assert.False(t, ok)
}

func TestExtractFile(t *testing.T) {
	doc := &telegram.Message{Document: &telegram.Document{FileID: "d1", FileName: "report.pdf", FileSize: 10, MimeType: "application/pdf"}}
	file := extractFile(doc)
	require.NotNil(t, file)
	assert.Equal(t, "report.pdf", file.Name)

	photo := &telegram.Message{Photo: []telegram.PhotoSize{
		{FileID: "small", FileUniqueID: "u1", FileSize: 1},
		{FileID: "big", FileUniqueID: "u2", FileSize: 2},
	}}
	file = extractFile(photo)
	require.NotNil(t, file)
	assert.Equal(t, "big", file.FileID, "largest photo size wins")
	assert.Equal(t, "photo_u2.jpg", file.Name)

	unnamed := &telegram.Message{Video: &telegram.Video{FileID: "v1", FileUniqueID: "u3"}}
	file = extractFile(unnamed)
	require.NotNil(t, file)
	assert.Equal(t, "video_u3.mp4", file.Name)

	assert.Nil(t, extractFile(&telegram.Message{Text: "hi"}))
}
