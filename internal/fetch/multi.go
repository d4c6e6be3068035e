package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/tanq16/flux/internal/utils"
)

type byteRange struct {
	id    int
	start int64
	end   int64
}

// splitRanges partitions [0, size) into parts contiguous ranges. The last
// range absorbs the remainder.
func splitRanges(size int64, parts int) []byteRange {
	chunkSize := size / int64(parts)
	ranges := make([]byteRange, 0, parts)
	for i := 0; i < parts; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize - 1
		if i == parts-1 {
			end = size - 1
		}
		ranges = append(ranges, byteRange{id: i, start: start, end: end})
	}
	return ranges
}

// DownloadFileMultipart fetches url as parts concurrent ranged GETs and
// assembles the result at outputPath. The total size must be known up front,
// so a probe runs first; servers without range support fail with
// utils.ErrRangeRequestsNotSupported. Progress is aggregated across parts.
func (f *Fetcher) DownloadFileMultipart(ctx context.Context, url, outputPath string, parts int, sink utils.ProgressSink) (string, error) {
	if parts <= 1 {
		return f.DownloadFile(ctx, url, outputPath, sink)
	}
	info, err := f.Probe(ctx, url)
	if err != nil {
		return "", err
	}
	if !info.RangeSupported || info.Size <= 0 {
		return "", utils.ErrRangeRequestsNotSupported
	}
	// Tiny files gain nothing from splitting; stream them whole.
	if info.Size/int64(parts) < 2*utils.DefaultBufferSize {
		return f.DownloadFile(ctx, url, outputPath, sink)
	}

	tempDir := utils.TempDirFor(outputPath)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return "", &utils.FileWriteError{Path: tempDir, Err: err}
	}

	t := newTracker(info.Size, sink)
	ranges := splitRanges(info.Size, parts)
	tempFiles := make([]string, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range ranges {
		r := r
		tempFiles[r.id] = filepath.Join(tempDir, fmt.Sprintf("%s.part%d", filepath.Base(outputPath), r.id))
		g.Go(func() error {
			return f.fetchRange(gctx, url, tempFiles[r.id], r, t)
		})
	}
	if err := g.Wait(); err != nil {
		for _, tf := range tempFiles {
			os.Remove(tf)
		}
		_ = utils.CleanTemp(outputPath)
		return "", err
	}

	if err := assembleParts(outputPath, tempFiles, info.Size); err != nil {
		for _, tf := range tempFiles {
			os.Remove(tf)
		}
		_ = utils.CleanTemp(outputPath)
		return "", err
	}
	_ = utils.CleanTemp(outputPath)
	absPath, err := filepath.Abs(outputPath)
	if err != nil {
		return outputPath, nil
	}
	return absPath, nil
}

// fetchRange streams one ranged GET into its part file, reporting chunks to
// the shared tracker.
func (f *Fetcher) fetchRange(ctx context.Context, url, tempFileName string, r byteRange, t *tracker) error {
	tempFile, err := os.OpenFile(tempFileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return &utils.FileWriteError{Path: tempFileName, Err: err}
	}
	defer tempFile.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating ranged GET request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.start, r.end))
	req.Header.Set("Connection", "keep-alive")
	resp, err := f.client.Do(req)
	if err != nil {
		return &utils.NetworkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return &utils.StatusError{Code: resp.StatusCode}
	}

	expected := r.end - r.start + 1
	var written int64
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		if err := f.gate.Wait(ctx); err != nil {
			return err
		}
		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			if _, writeErr := tempFile.Write(buffer[:n]); writeErr != nil {
				return &utils.FileWriteError{Path: tempFileName, Err: writeErr}
			}
			written += int64(n)
			t.add(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return &utils.NetworkError{Err: fmt.Errorf("reading part %d: %w", r.id, readErr)}
		}
	}
	if written != expected {
		return fmt.Errorf("part %d size mismatch: expected %d bytes, got %d", r.id, expected, written)
	}
	return nil
}

// assembleParts concatenates the part files in range order into a staging
// file next to them, then renames it over outputPath. A pre-existing file at
// outputPath is only replaced once the assembled result is complete and
// verified.
func assembleParts(outputPath string, tempFiles []string, fileSize int64) error {
	assembledPath := fmt.Sprintf("%s.part", filepath.Join(utils.TempDirFor(outputPath), filepath.Base(outputPath)))
	destFile, err := os.Create(assembledPath)
	if err != nil {
		return &utils.FileWriteError{Path: assembledPath, Err: err}
	}

	fail := func(failErr error) error {
		destFile.Close()
		os.Remove(assembledPath)
		return failErr
	}

	var totalWritten int64
	for _, tempFilePath := range tempFiles {
		tempFile, err := os.Open(tempFilePath)
		if err != nil {
			return fail(fmt.Errorf("opening part file: %w", err))
		}
		written, err := io.Copy(destFile, tempFile)
		tempFile.Close()
		if err != nil {
			return fail(&utils.FileWriteError{Path: assembledPath, Err: err})
		}
		totalWritten += written
	}
	if totalWritten != fileSize {
		return fail(fmt.Errorf("assembled size mismatch: expected %d, got %d", fileSize, totalWritten))
	}
	if err := destFile.Sync(); err != nil {
		return fail(&utils.FileWriteError{Path: assembledPath, Err: err})
	}
	if err := destFile.Close(); err != nil {
		os.Remove(assembledPath)
		return &utils.FileWriteError{Path: assembledPath, Err: err}
	}
	for _, tempFilePath := range tempFiles {
		os.Remove(tempFilePath)
	}
	if err := os.Rename(assembledPath, outputPath); err != nil {
		os.Remove(assembledPath)
		return &utils.FileWriteError{Path: outputPath, Err: err}
	}
	return nil
}
