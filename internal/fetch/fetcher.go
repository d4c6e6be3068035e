// Package fetch performs the network half of a download: probing the remote
// file, streaming it single-shot or as concurrent ranged parts, and
// persisting the bytes. Session control (pause/resume/cancel) is injected
// through the Gate consulted at every chunk boundary.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tanq16/flux/internal/utils"
)

// Gate is consulted between chunk reads. Wait blocks while the session is
// paused and returns utils.ErrCancelled once the session is cancelled.
type Gate interface {
	Wait(ctx context.Context) error
}

type nopGate struct{}

func (nopGate) Wait(context.Context) error { return nil }

type Fetcher struct {
	client utils.HTTPDoer
	gate   Gate
}

func NewFetcher(client utils.HTTPDoer, gate Gate) *Fetcher {
	if gate == nil {
		gate = nopGate{}
	}
	return &Fetcher{client: client, gate: gate}
}

// fetchStream issues one GET and copies the body into w chunk by chunk,
// reporting every chunk to the tracker. The response body is closed on every
// exit path.
func (f *Fetcher) fetchStream(ctx context.Context, url string, w io.Writer, t *tracker) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating GET request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return &utils.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &utils.StatusError{Code: resp.StatusCode}
	}
	if resp.ContentLength > 0 {
		t.setTotal(resp.ContentLength)
	}

	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		if err := f.gate.Wait(ctx); err != nil {
			return err
		}
		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			if _, writeErr := w.Write(buffer[:n]); writeErr != nil {
				return &utils.FileWriteError{Err: writeErr}
			}
			t.add(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return &utils.NetworkError{Err: readErr}
		}
	}
}

// DownloadFile streams url into outputPath via a temp part file and returns
// the absolute path of the finished file. An existing file at outputPath is
// overwritten.
func (f *Fetcher) DownloadFile(ctx context.Context, url, outputPath string, sink utils.ProgressSink) (string, error) {
	tempDir := utils.TempDirFor(outputPath)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return "", &utils.FileWriteError{Path: tempDir, Err: err}
	}
	tempOutputPath := fmt.Sprintf("%s.part", filepath.Join(tempDir, filepath.Base(outputPath)))

	outFile, err := os.OpenFile(tempOutputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", &utils.FileWriteError{Path: tempOutputPath, Err: err}
	}

	t := newTracker(0, sink)
	streamErr := f.fetchStream(ctx, url, outFile, t)
	syncErr := outFile.Sync()
	closeErr := outFile.Close()
	if streamErr != nil {
		os.Remove(tempOutputPath)
		return "", streamErr
	}
	if syncErr != nil {
		os.Remove(tempOutputPath)
		return "", &utils.FileWriteError{Path: tempOutputPath, Err: syncErr}
	}
	if closeErr != nil {
		os.Remove(tempOutputPath)
		return "", &utils.FileWriteError{Path: tempOutputPath, Err: closeErr}
	}
	if err := os.Rename(tempOutputPath, outputPath); err != nil {
		return "", &utils.FileWriteError{Path: outputPath, Err: err}
	}
	_ = utils.CleanTemp(outputPath)
	absPath, err := filepath.Abs(outputPath)
	if err != nil {
		return outputPath, nil
	}
	return absPath, nil
}
