package pixeldrain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"drainbot/internal/format"
)

// copyBufferSize bounds per-upload memory regardless of file size.
const copyBufferSize = 4 * 1024 * 1024

// Client wraps the pixeldrain HTTP API.
type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a pixeldrain client. A zero timeout means no request
// timeout at all, which is required for multi-gigabyte uploads.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://pixeldra.in"
	}
	return &Client{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: timeout,
		},
	}
}

// FileInfo describes a file known to pixeldrain.
type FileInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	MimeType      string `json:"mime_type"`
	DateUpload    string `json:"date_upload"`
	DateLastView  string `json:"date_last_view"`
	Views         int64  `json:"views"`
	BandwidthUsed int64  `json:"bandwidth_used"`
}

// UploadResult is the outcome of a successful POST to /api/file. When the
// response body was not valid JSON, ID is empty and Raw holds the body text.
type UploadResult struct {
	ID  string
	Raw string
}

// ViewURL returns the shareable page for a file.
func (c *Client) ViewURL(id string) string {
	return fmt.Sprintf("%s/u/%s", c.BaseURL, id)
}

// DirectURL returns the direct download endpoint for a file.
func (c *Client) DirectURL(id string) string {
	return fmt.Sprintf("%s/api/file/%s", c.BaseURL, id)
}

// FileInfo fetches metadata for an uploaded file. Single attempt, no retry.
func (c *Client) FileInfo(ctx context.Context, id string) (*FileInfo, error) {
	url := fmt.Sprintf("%s/api/file/%s/info", c.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pixeldrain info status: %s", resp.Status)
	}
	var info FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("pixeldrain info decode: %w", err)
	}
	if info.ID == "" {
		info.ID = id
	}
	return &info, nil
}

// Upload streams a local file to pixeldrain as a multipart form. The file is
// never held in memory whole; it is piped to the request body in bounded
// chunks. On confirmed success the local file is removed: ownership of the
// staging file passes to this method for the duration of the call. The
// returned log records every branch taken, in order, and is surfaced to the
// user on failure. progress, if non-nil, is called after each chunk with the
// byte counts transferred so far.
func (c *Client) Upload(ctx context.Context, path string, progress func(uploaded, total int64)) (*UploadResult, []string, error) {
	var logs []string

	fi, err := os.Stat(path)
	if err != nil {
		logs = append(logs, fmt.Sprintf("File system error: %v", err))
		return nil, logs, fmt.Errorf("stat upload file: %w", err)
	}
	logs = append(logs, fmt.Sprintf("File size: %s", format.Bytes(fi.Size())))

	file, err := os.Open(path)
	if err != nil {
		logs = append(logs, fmt.Sprintf("File system error: %v", err))
		return nil, logs, fmt.Errorf("open upload file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		var writeErr error
		defer func() {
			if closeErr := mw.Close(); closeErr != nil && writeErr == nil {
				writeErr = closeErr
			}
			pw.CloseWithError(writeErr)
		}()
		part, err := createFilePart(mw, filepath.Base(path))
		if err != nil {
			writeErr = err
			return
		}
		var src io.Reader = file
		if progress != nil {
			src = &progressReader{r: file, total: fi.Size(), report: progress}
		}
		buf := make([]byte, copyBufferSize)
		if _, err := io.CopyBuffer(part, src, buf); err != nil {
			writeErr = err
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/file", pr)
	if err != nil {
		logs = append(logs, fmt.Sprintf("Request error: %v", err))
		return nil, logs, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	// Empty username, API key as password.
	req.SetBasicAuth("", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		logs = append(logs, fmt.Sprintf("Network error: %v", err))
		return nil, logs, fmt.Errorf("pixeldrain upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		logs = append(logs, fmt.Sprintf("Upload failed with status %d", resp.StatusCode))
		return nil, logs, fmt.Errorf("%d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logs = append(logs, fmt.Sprintf("Response read error: %v", err))
		return nil, logs, fmt.Errorf("read upload response: %w", err)
	}

	result := &UploadResult{}
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.ID == "" {
		result.Raw = strings.TrimSpace(string(body))
		logs = append(logs, "Upload response was not valid JSON, keeping raw body")
		return result, logs, nil
	}
	result.ID = parsed.ID
	logs = append(logs, "Uploaded Successfully")

	// The local copy is only disposable once the remote host has confirmed
	// receipt, which is the case here.
	if err := os.Remove(path); err != nil {
		logs = append(logs, fmt.Sprintf("Failed to remove media: %v", err))
	} else {
		logs = append(logs, "Removed media")
	}
	return result, logs, nil
}

type progressReader struct {
	r        io.Reader
	total    int64
	uploaded int64
	report   func(uploaded, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.uploaded += int64(n)
		p.report(p.uploaded, p.total)
	}
	return n, err
}

func createFilePart(mw *multipart.Writer, filename string) (io.Writer, error) {
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "application/octet-stream")
	return mw.CreatePart(header)
}
