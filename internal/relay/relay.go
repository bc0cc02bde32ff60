package relay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"drainbot/internal/format"
	"drainbot/internal/pixeldrain"
	"drainbot/internal/telegram"
)

// Phase is a transfer job's position in its lifecycle. Transitions are
// strictly sequential for one job; no phase is skipped or reordered.
type Phase int

const (
	PhaseReceived Phase = iota
	PhaseDownloading
	PhaseStaged
	PhaseUploading
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseReceived:
		return "received"
	case PhaseDownloading:
		return "downloading"
	case PhaseStaged:
		return "staged"
	case PhaseUploading:
		return "uploading"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Messenger is the chat-platform surface the pipeline needs.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	DownloadToFile(ctx context.Context, fileID, dir, name string) (string, error)
}

// Host is the remote file-hosting surface the pipeline needs.
type Host interface {
	Upload(ctx context.Context, path string, progress func(uploaded, total int64)) (*pixeldrain.UploadResult, []string, error)
}

// ReportFunc renders the final metadata card into the placeholder message
// once an upload has produced a remote file ID.
type ReportFunc func(ctx context.Context, chatID int64, messageID int, fileID string)

// Job is one file in flight from Telegram to the remote host.
type Job struct {
	ID        string
	Principal int64
	ChatID    int64
	ReplyTo   int

	FileID   string
	FileName string
	Declared int64

	StagingPath string
	Phase       Phase
	Log         []string

	messageID int
}

// Runner executes transfer jobs as detached background units of work. Each
// submitted job runs to a terminal phase; a bounded semaphore caps how many
// uploads stream concurrently.
type Runner struct {
	tg     Messenger
	host   Host
	report ReportFunc
	logger zerolog.Logger

	downloadDir      string
	progressInterval time.Duration
	progressMinSize  int64

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// Options tunes a Runner.
type Options struct {
	DownloadDir      string
	MaxConcurrent    int64
	ProgressInterval time.Duration
	ProgressMinSize  int64
}

// NewRunner creates a relay runner.
func NewRunner(tg Messenger, host Host, report ReportFunc, logger zerolog.Logger, opts Options) *Runner {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 5 * time.Second
	}
	if opts.ProgressMinSize <= 0 {
		opts.ProgressMinSize = 100 * 1024 * 1024
	}
	return &Runner{
		tg:               tg,
		host:             host,
		report:           report,
		logger:           logger,
		downloadDir:      opts.DownloadDir,
		progressInterval: opts.ProgressInterval,
		progressMinSize:  opts.ProgressMinSize,
		sem:              semaphore.NewWeighted(opts.MaxConcurrent),
	}
}

// Submit schedules a job and returns immediately. The job keeps running even
// if ctx is later cancelled: once scheduled, a transfer runs to completion or
// failure.
func (r *Runner) Submit(ctx context.Context, job *Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	jobCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(jobCtx, job)
	}()
}

// Wait blocks until every submitted job has reached a terminal phase.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, job *Job) {
	logger := r.logger.With().Str("job", job.ID).Int64("principal", job.Principal).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("transfer job panicked")
			job.Phase = PhaseFailed
			r.fail(ctx, job, fmt.Sprintf("%v", rec))
		}
	}()

	msg, err := r.tg.SendMessage(ctx, job.ChatID, "Processing...", job.ReplyTo, nil)
	if err != nil {
		// Without a placeholder there is nowhere to report; the job is
		// abandoned before touching the disk.
		logger.Error().Err(err).Msg("placeholder send failed, dropping job")
		job.Phase = PhaseFailed
		return
	}
	job.messageID = msg.MessageID

	job.Phase = PhaseDownloading
	r.edit(ctx, job, "Downloading...")

	path, err := r.tg.DownloadToFile(ctx, job.FileID, r.downloadDir, job.FileName)
	if err != nil {
		logger.Error().Err(err).Msg("download failed")
		job.Phase = PhaseFailed
		r.fail(ctx, job, fmt.Sprintf("download failed: %v", err))
		return
	}
	if path == "" {
		logger.Error().Msg("download produced no path")
		job.Phase = PhaseFailed
		r.fail(ctx, job, "download produced no local path")
		return
	}
	if _, err := os.Stat(path); err != nil {
		logger.Error().Str("path", path).Err(err).Msg("downloaded file absent")
		job.Phase = PhaseFailed
		r.fail(ctx, job, fmt.Sprintf("download reported %s but the file is absent", path))
		return
	}
	job.StagingPath = path
	job.Log = append(job.Log, "Downloaded Successfully")

	// Embed the principal in the staging name so concurrent jobs with the
	// same original filename cannot clobber each other. A failed rename
	// weakens only that guarantee, never the upload itself.
	staged := stagingName(path, job.Principal)
	if err := os.Rename(path, staged); err != nil {
		logger.Warn().Err(err).Msg("staging rename failed, continuing with original path")
		job.Log = append(job.Log, fmt.Sprintf("Rename failed, keeping original name: %v", err))
	} else {
		job.StagingPath = staged
		job.Log = append(job.Log, "Renamed file successfully")
	}
	job.Phase = PhaseStaged

	size := job.Declared
	if fi, err := os.Stat(job.StagingPath); err == nil {
		size = fi.Size()
	}
	job.Log = append(job.Log, fmt.Sprintf("File size: %s", format.Bytes(size)))
	r.edit(ctx, job, fmt.Sprintf("Downloaded Successfully (%s), Now Uploading...", format.Bytes(size)))

	job.Phase = PhaseUploading
	if err := r.sem.Acquire(ctx, 1); err != nil {
		job.Phase = PhaseFailed
		r.fail(ctx, job, fmt.Sprintf("upload slot: %v", err))
		r.removeStaging(job, logger)
		return
	}
	defer r.sem.Release(1)

	logger.Info().Str("path", job.StagingPath).Int64("size", size).Msg("upload started")
	result, uploadLog, err := r.host.Upload(ctx, job.StagingPath, r.progressFunc(ctx, job, size))
	job.Log = append(job.Log, uploadLog...)
	if err != nil {
		logger.Error().Err(err).Msg("upload failed")
		job.Phase = PhaseFailed
		r.fail(ctx, job, err.Error())
		r.removeStaging(job, logger)
		return
	}
	if result.ID == "" {
		// The host answered 2xx with an unparseable body. Surface what came
		// back instead of discarding it; without an ID there is no card to
		// render.
		logger.Warn().Str("raw", result.Raw).Msg("upload response had no id")
		job.Phase = PhaseFailed
		r.fail(ctx, job, fmt.Sprintf("unexpected response: %s", result.Raw))
		r.removeStaging(job, logger)
		return
	}

	job.Phase = PhaseCompleted
	logger.Info().Str("file_id", result.ID).Msg("upload completed")
	r.edit(ctx, job, "Uploaded Successfully!")
	if r.report != nil {
		r.report(ctx, job.ChatID, job.messageID, result.ID)
	}
}

// fail edits the placeholder with the error plus the chronological job log.
func (r *Runner) fail(ctx context.Context, job *Job, errText string) {
	if job.messageID == 0 {
		return
	}
	text := fmt.Sprintf("Error :- %s", errText)
	if len(job.Log) > 0 {
		text += "\n\n" + strings.Join(job.Log, "\n")
	}
	r.edit(ctx, job, text)
}

// edit updates the placeholder best-effort. A status display must never be
// able to interrupt the transfer it describes, so edit failures are logged
// and dropped.
func (r *Runner) edit(ctx context.Context, job *Job, text string) {
	if _, err := r.tg.EditMessageText(ctx, job.ChatID, job.messageID, text, nil); err != nil {
		r.logger.Warn().Str("job", job.ID).Err(err).Msg("message edit failed")
	}
}

func (r *Runner) progressFunc(ctx context.Context, job *Job, size int64) func(uploaded, total int64) {
	if size <= r.progressMinSize {
		return nil
	}
	var last time.Time
	return func(uploaded, total int64) {
		if time.Since(last) < r.progressInterval {
			return
		}
		last = time.Now()
		percent := float64(uploaded) / float64(total) * 100
		r.edit(ctx, job, fmt.Sprintf("Uploading... %.1f%% (%s / %s)",
			percent, format.Bytes(uploaded), format.Bytes(total)))
	}
}

// removeStaging deletes a leftover staging file after a failed upload. The
// success path deletes inside the transport, after the host confirms receipt.
func (r *Runner) removeStaging(job *Job, logger zerolog.Logger) {
	if job.StagingPath == "" {
		return
	}
	if err := os.Remove(job.StagingPath); err != nil && !os.IsNotExist(err) {
		logger.Warn().Str("path", job.StagingPath).Err(err).Msg("staging cleanup failed")
	}
}

// stagingName derives a per-principal staging path: photo.jpg uploaded by
// principal 42 stages as photo_42.jpg alongside the original.
func stagingName(path string, principal int64) string {
	dir, file := filepath.Split(path)
	ext := filepath.Ext(file)
	base := strings.TrimSuffix(file, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, principal, ext))
}
