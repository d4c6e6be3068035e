package fetch

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/tanq16/flux/internal/utils"
)

// ImageResult holds a downloaded image entirely in memory. Format, Width and
// Height are filled in when the bytes decode as a known image format and left
// zero otherwise; Data always carries the raw fetched bytes.
type ImageResult struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// DownloadImage fetches url into memory and annotates the result with the
// decoded image dimensions. No filesystem interaction.
func (f *Fetcher) DownloadImage(ctx context.Context, url string, sink utils.ProgressSink) (*ImageResult, error) {
	var buf bytes.Buffer
	t := newTracker(0, sink)
	if err := f.fetchStream(ctx, url, &buf, t); err != nil {
		return nil, err
	}
	result := &ImageResult{Data: buf.Bytes()}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(result.Data)); err == nil {
		result.Format = format
		result.Width = cfg.Width
		result.Height = cfg.Height
	}
	return result, nil
}
