package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Client wraps Telegram Bot API calls.
type Client struct {
	Token  string
	APIURL string
	// HTTP carries API calls; FileHTTP carries file downloads and has no
	// timeout because media can run to multiple gigabytes.
	HTTP     *http.Client
	FileHTTP *http.Client
}

// NewClient creates a Telegram client. pollTimeout should match the long-poll
// timeout passed to GetUpdates so the HTTP deadline outlives the poll.
func NewClient(token, apiURL string, pollTimeout time.Duration) *Client {
	return &Client{
		Token:  token,
		APIURL: apiURL,
		HTTP: &http.Client{
			Timeout: pollTimeout + 15*time.Second,
		},
		FileHTTP: &http.Client{},
	}
}

// Update represents a Telegram update.
type Update struct {
	UpdateID int      `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is a Telegram message payload.
type Message struct {
	MessageID      int         `json:"message_id"`
	From           *User       `json:"from,omitempty"`
	Chat           Chat        `json:"chat"`
	Date           int64       `json:"date"`
	Text           string      `json:"text,omitempty"`
	Caption        string      `json:"caption,omitempty"`
	ReplyToMessage *Message    `json:"reply_to_message,omitempty"`
	Document       *Document   `json:"document,omitempty"`
	Photo          []PhotoSize `json:"photo,omitempty"`
	Audio          *Audio      `json:"audio,omitempty"`
	Video          *Video      `json:"video,omitempty"`
	Voice          *Voice      `json:"voice,omitempty"`
}

// User is a Telegram user.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Chat represents a chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Document represents a document file.
type Document struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
}

// PhotoSize represents a photo size.
type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size"`
}

// Audio represents an audio file.
type Audio struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
	Duration     int    `json:"duration"`
}

// Video represents a video file.
type Video struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
	Duration     int    `json:"duration"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// Voice represents a voice note.
type Voice struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
	Duration     int    `json:"duration"`
}

// File represents a Telegram file.
type File struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size"`
	FilePath     string `json:"file_path"`
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

func (c *Client) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.APIURL, c.Token, method)
}

func (c *Client) fileURL(filePath string) string {
	return fmt.Sprintf("%s/file/bot%s/%s", c.APIURL, c.Token, filePath)
}

func (c *Client) doJSON(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("telegram api status: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUpdates polls for updates.
func (c *Client) GetUpdates(ctx context.Context, offset int, timeoutSec int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message"},
	}
	var resp apiResponse[[]Update]
	if err := c.doJSON(ctx, "getUpdates", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram getUpdates failed: %s", resp.Description)
	}
	return resp.Result, nil
}

// GetMe returns bot info.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var resp apiResponse[User]
	if err := c.doJSON(ctx, "getMe", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram getMe failed: %s", resp.Description)
	}
	return &resp.Result, nil
}

// GetChatMember fetches a user's profile through their membership in a chat.
func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (*User, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}
	var resp apiResponse[struct {
		User *User `json:"user"`
	}]
	if err := c.doJSON(ctx, "getChatMember", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.OK || resp.Result.User == nil {
		return nil, fmt.Errorf("telegram getChatMember failed: %s", resp.Description)
	}
	return resp.Result.User, nil
}

// SendMessage sends a text message. A non-zero replyTo quotes that message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyTo int, markup *InlineKeyboardMarkup) (*Message, error) {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if replyTo != 0 {
		payload["reply_to_message_id"] = replyTo
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	var resp apiResponse[Message]
	if err := c.doJSON(ctx, "sendMessage", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram sendMessage failed: %s", resp.Description)
	}
	return &resp.Result, nil
}

// EditMessageText edits a message in place.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *InlineKeyboardMarkup) (*Message, error) {
	payload := map[string]any{
		"chat_id":                  chatID,
		"message_id":               messageID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	var resp apiResponse[Message]
	if err := c.doJSON(ctx, "editMessageText", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram editMessageText failed: %s", resp.Description)
	}
	return &resp.Result, nil
}

// GetFile retrieves file metadata.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	payload := map[string]any{"file_id": fileID}
	var resp apiResponse[File]
	if err := c.doJSON(ctx, "getFile", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram getFile failed: %s", resp.Description)
	}
	return &resp.Result, nil
}

// DownloadToFile downloads a Telegram file into dir under the given name and
// returns the local path. The write goes through a .part file that is renamed
// into place only once the body has been fully copied, so a failed download
// never leaves a half-written file under the final name.
func (c *Client) DownloadToFile(ctx context.Context, fileID, dir, name string) (string, error) {
	file, err := c.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("telegram getFile returned no path for %s", fileID)
	}
	if name == "" {
		name = filepath.Base(file.FilePath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(file.FilePath), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.FileHTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("telegram file download status: %s", resp.Status)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return dest, nil
}
