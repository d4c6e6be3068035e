// Package engine owns the download session: one controller mediates between
// the caller and the stream fetcher, tracking the Idle/Downloading/Paused
// state machine and servicing pause, resume, and cancel requests. The engine
// supports a single logical session at a time; starting a download while one
// is active fails with utils.ErrBusy.
package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tanq16/flux/internal/fetch"
	"github.com/tanq16/flux/internal/utils"
)

type State int

const (
	StateIdle State = iota
	StateDownloading
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateDownloading:
		return "downloading"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

type Config struct {
	// OutputDir is where downloaded files land. Defaults to the working
	// directory.
	OutputDir        string
	HTTPClientConfig utils.HTTPClientConfig
	// Client overrides the HTTP client, mainly for tests.
	Client utils.HTTPDoer
	Logger *zerolog.Logger
}

type Controller struct {
	mu        sync.Mutex
	state     State
	busy      bool
	cancelled atomic.Bool
	done      chan struct{} // completion signal, fresh per attempt
	finish    *sync.Once    // guards closing done
	resumeCh  chan struct{} // non-nil while paused; closed on resume/cancel
	fetcher   *fetch.Fetcher
	outputDir string
	log       zerolog.Logger
}

func New(cfg Config) *Controller {
	client := cfg.Client
	if client == nil {
		client = utils.NewFluxHTTPClient(cfg.HTTPClientConfig)
	}
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	logger := utils.GetLogger("engine")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	c := &Controller{
		state:     StateIdle,
		outputDir: outputDir,
		log:       logger,
	}
	c.fetcher = fetch.NewFetcher(client, c)
	return c
}

// State reports the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done returns the completion signal of the current attempt. It is closed
// when the attempt finishes, fails, or is cancelled. With no attempt active
// an already-closed channel is returned.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Wait implements fetch.Gate. It is consulted by the streaming loops at every
// chunk boundary: it returns utils.ErrCancelled once the session is cancelled
// and blocks while the session is paused.
func (c *Controller) Wait(ctx context.Context) error {
	for {
		if c.cancelled.Load() {
			return utils.ErrCancelled
		}
		c.mu.Lock()
		ch := c.resumeCh
		c.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// begin claims the single session slot, resets the cancellation flag, and
// arms a fresh completion signal.
func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return utils.ErrBusy
	}
	c.busy = true
	c.cancelled.Store(false)
	c.done = make(chan struct{})
	c.finish = new(sync.Once)
	c.resumeCh = nil
	c.state = StateDownloading
	return nil
}

// finishAttempt emits the terminal sentinel pair (100, 0) then (0, 0),
// releases the completion signal, and returns the session to idle. It runs on
// every exit path of an attempt: success, failure, and cancellation.
func (c *Controller) finishAttempt(sink utils.ProgressSink) {
	if sink != nil {
		sink.OnProgress(100, 0)
		sink.OnProgress(0, 0)
	}
	c.mu.Lock()
	if c.finish != nil {
		done := c.done
		c.finish.Do(func() { close(done) })
	}
	if c.resumeCh != nil {
		close(c.resumeCh)
		c.resumeCh = nil
	}
	c.state = StateIdle
	c.busy = false
	c.mu.Unlock()
}

// Pause suspends the active download at the next chunk boundary. No-op unless
// the session is downloading.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDownloading {
		return
	}
	c.state = StatePaused
	c.resumeCh = make(chan struct{})
	c.log.Debug().Msg("Download paused")
}

// Resume unblocks a paused download. No-op unless the session is paused. The
// already-running attempt carries on; its result is delivered through the
// original call and the completion signal.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return
	}
	c.state = StateDownloading
	close(c.resumeCh)
	c.resumeCh = nil
	c.log.Debug().Msg("Download resumed")
}

// Cancel flags the active download for cancellation, completes and discards
// the completion signal, and forces the state to idle. Idempotent; safe to
// call with no download active. The in-flight streaming loop observes the
// flag at its next chunk boundary and fails with utils.ErrCancelled.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled.Store(true)
	if c.resumeCh != nil {
		close(c.resumeCh)
		c.resumeCh = nil
	}
	if c.finish != nil {
		done := c.done
		c.finish.Do(func() { close(done) })
	}
	if c.state != StateIdle {
		c.log.Debug().Msg("Download cancelled")
	}
	c.state = StateIdle
}

// DownloadImage fetches url into memory and returns the image result.
func (c *Controller) DownloadImage(ctx context.Context, url string, sink utils.ProgressSink) (*fetch.ImageResult, error) {
	if err := utils.ValidateURL(url); err != nil {
		return nil, err
	}
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.finishAttempt(sink)
	logger := c.attemptLogger(url)
	result, err := c.fetcher.DownloadImage(ctx, url, sink)
	if err != nil {
		logger.Error().Err(err).Msg("Image download failed")
		return nil, err
	}
	logger.Info().Str("format", result.Format).Int("bytes", len(result.Data)).Msg("Image download complete")
	return result, nil
}

// DownloadFile fetches url single-stream and persists it under the output
// directory, returning the absolute path.
func (c *Controller) DownloadFile(ctx context.Context, url string, sink utils.ProgressSink) (string, error) {
	return c.downloadFile(ctx, url, "", sink, 1)
}

// DownloadFileMultipart fetches url as parts concurrent ranged requests and
// persists the assembled result, returning the absolute path.
func (c *Controller) DownloadFileMultipart(ctx context.Context, url string, sink utils.ProgressSink, parts int) (string, error) {
	return c.downloadFile(ctx, url, "", sink, parts)
}

// DownloadFileAs is DownloadFileMultipart with an explicit output file name
// instead of one derived from the URL. Batch lists use it to pin names.
func (c *Controller) DownloadFileAs(ctx context.Context, url, name string, sink utils.ProgressSink, parts int) (string, error) {
	return c.downloadFile(ctx, url, name, sink, parts)
}

func (c *Controller) downloadFile(ctx context.Context, url, name string, sink utils.ProgressSink, parts int) (string, error) {
	if err := utils.ValidateURL(url); err != nil {
		return "", err
	}
	if err := c.begin(); err != nil {
		return "", err
	}
	defer c.finishAttempt(sink)
	logger := c.attemptLogger(url)
	if name == "" {
		name = c.resolveFileName(ctx, url)
	}
	outputPath := filepath.Join(c.outputDir, name)

	var path string
	var err error
	if parts > 1 {
		path, err = c.fetcher.DownloadFileMultipart(ctx, url, outputPath, parts, sink)
	} else {
		path, err = c.fetcher.DownloadFile(ctx, url, outputPath, sink)
	}
	if err != nil {
		logger.Error().Err(err).Msg("File download failed")
		return "", err
	}
	logger.Info().Str("path", path).Msg("File download complete")
	return path, nil
}

// resolveFileName prefers the server-suggested filename from a best-effort
// probe, falling back to a name derived from the URL path.
func (c *Controller) resolveFileName(ctx context.Context, url string) string {
	if info, err := c.fetcher.Probe(ctx, url); err == nil && info.Filename != "" {
		return info.Filename
	}
	return utils.DeriveFileName(url)
}

func (c *Controller) attemptLogger(url string) zerolog.Logger {
	return c.log.With().Str("attempt", uuid.NewString()[:8]).Str("url", url).Logger()
}
