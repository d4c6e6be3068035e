package fetch

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tanq16/flux/internal/utils"
)

// FileInfo describes the remote file as reported by a HEAD request.
type FileInfo struct {
	Size           int64 // -1 when the server does not report a length
	Filename       string
	RangeSupported bool
}

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// Probe issues a HEAD request to learn the remote size, whether byte ranges
// are accepted, and any server-suggested filename.
func (f *Fetcher) Probe(ctx context.Context, link string) (FileInfo, error) {
	info := FileInfo{Size: -1}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return info, fmt.Errorf("creating HEAD request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return info, &utils.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return info, &utils.StatusError{Code: resp.StatusCode}
	}

	if contentDisposition := resp.Header.Get("Content-Disposition"); contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if fn, ok := params["filename"]; ok && fn != "" {
				info.Filename = filenameRegex.ReplaceAllString(fn, "_")
			} else if fn, ok := params["filename*"]; ok && fn != "" {
				if strings.HasPrefix(fn, "UTF-8''") {
					unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
					info.Filename = filenameRegex.ReplaceAllString(unescaped, "_")
				}
			}
		}
	}

	info.RangeSupported = resp.Header.Get("Accept-Ranges") == "bytes"
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil && size > 0 {
			info.Size = size
		}
	}
	return info, nil
}
