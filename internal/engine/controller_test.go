package engine

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/flux/internal/utils"
)

type sample struct {
	percent float64
	speed   float64
}

type recordingSink struct {
	mu      sync.Mutex
	samples []sample
	firstCh chan struct{}
	once    sync.Once
}

func newRecordingSink() *recordingSink {
	return &recordingSink{firstCh: make(chan struct{})}
}

func (r *recordingSink) OnProgress(percent, speed float64) {
	r.mu.Lock()
	r.samples = append(r.samples, sample{percent, speed})
	r.mu.Unlock()
	r.once.Do(func() { close(r.firstCh) })
}

func (r *recordingSink) all() []sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sample(nil), r.samples...)
}

// waitFirst blocks until the sink has seen at least one progress callback.
func (r *recordingSink) waitFirst(t *testing.T) {
	t.Helper()
	select {
	case <-r.firstCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first progress callback")
	}
}

// newDripServer streams content in small flushed chunks with a delay between
// them, leaving room for pause/cancel calls to land mid-stream.
func newDripServer(t *testing.T, content []byte, chunkSize int, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		flusher := w.(http.Flusher)
		for start := 0; start < len(content); start += chunkSize {
			end := min(start+chunkSize, len(content))
			if _, err := w.Write(content[start:end]); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(delay)
		}
	}))
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	return New(Config{
		OutputDir:        t.TempDir(),
		HTTPClientConfig: utils.HTTPClientConfig{Timeout: 30 * time.Second},
	})
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func TestDownloadFileEmitsSentinelPair(t *testing.T) {
	content := randomBytes(t, 64*1024)
	server := newDripServer(t, content, 16*1024, 0)
	defer server.Close()

	ctrl := newTestController(t)
	sink := newRecordingSink()

	path, err := ctrl.DownloadFile(context.Background(), server.URL+"/data.bin", sink)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	samples := sink.all()
	require.GreaterOrEqual(t, len(samples), 2)
	assert.Equal(t, sample{100, 0}, samples[len(samples)-2])
	assert.Equal(t, sample{0, 0}, samples[len(samples)-1])
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestDownloadFileDerivedName(t *testing.T) {
	content := []byte("hello")
	server := newDripServer(t, content, len(content), 0)
	defer server.Close()

	ctrl := newTestController(t)
	path, err := ctrl.DownloadFile(context.Background(), server.URL+"/dir/file.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "file.txt", filepath.Base(path))
}

func TestDownloadFileServerSuggestedName(t *testing.T) {
	content := []byte("hello")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="report-final.pdf"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(content)
	}))
	defer server.Close()

	ctrl := newTestController(t)
	path, err := ctrl.DownloadFile(context.Background(), server.URL+"/dl?id=42", nil)
	require.NoError(t, err)
	assert.Equal(t, "report-final.pdf", filepath.Base(path))
}

func TestDownloadFileAsPinsName(t *testing.T) {
	content := []byte("hello")
	server := newDripServer(t, content, len(content), 0)
	defer server.Close()

	ctrl := newTestController(t)
	path, err := ctrl.DownloadFileAs(context.Background(), server.URL+"/dir/file.txt", "pinned.dat", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "pinned.dat", filepath.Base(path))
}

func TestDownloadFileSynthesizedName(t *testing.T) {
	content := []byte("hello")
	server := newDripServer(t, content, len(content), 0)
	defer server.Close()

	ctrl := newTestController(t)
	path, err := ctrl.DownloadFile(context.Background(), server.URL+"/", nil)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Contains(t, filepath.Base(path), "download-")
}

func TestRejectsSecondSessionWhileBusy(t *testing.T) {
	content := randomBytes(t, 256*1024)
	server := newDripServer(t, content, 8*1024, 20*time.Millisecond)
	defer server.Close()

	ctrl := newTestController(t)
	sink := newRecordingSink()

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.DownloadFile(context.Background(), server.URL+"/busy.bin", sink)
		errCh <- err
	}()
	sink.waitFirst(t)

	_, err := ctrl.DownloadFile(context.Background(), server.URL+"/second.bin", nil)
	assert.ErrorIs(t, err, utils.ErrBusy)

	require.NoError(t, <-errCh)
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestCancelFailsInFlightDownload(t *testing.T) {
	content := randomBytes(t, 512*1024)
	server := newDripServer(t, content, 8*1024, 20*time.Millisecond)
	defer server.Close()

	ctrl := newTestController(t)
	sink := newRecordingSink()

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.DownloadFile(context.Background(), server.URL+"/cancel.bin", sink)
		errCh <- err
	}()
	sink.waitFirst(t)
	done := ctrl.Done()
	ctrl.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion signal not released on cancel")
	}

	err := <-errCh
	assert.ErrorIs(t, err, utils.ErrCancelled)
	assert.Equal(t, StateIdle, ctrl.State())

	// Cancel is idempotent.
	ctrl.Cancel()
	ctrl.Cancel()
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestPauseResumeCompletesIntact(t *testing.T) {
	content := randomBytes(t, 256*1024)
	server := newDripServer(t, content, 8*1024, 10*time.Millisecond)
	defer server.Close()

	ctrl := newTestController(t)
	sink := newRecordingSink()

	type result struct {
		path string
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		path, err := ctrl.DownloadFile(context.Background(), server.URL+"/pause.bin", sink)
		resCh <- result{path, err}
	}()
	sink.waitFirst(t)

	ctrl.Pause()
	assert.Equal(t, StatePaused, ctrl.State())

	// While paused the chunk loop must stay blocked.
	before := len(sink.all())
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, len(sink.all()), before+1, "progress should stall while paused")

	ctrl.Resume()
	assert.Equal(t, StateDownloading, ctrl.State())

	res := <-resCh
	require.NoError(t, res.err)
	got, err := os.ReadFile(res.path)
	require.NoError(t, err)
	assert.Equal(t, content, got, "pause/resume must not lose or duplicate bytes")
}

func TestPauseResumeNoOpWhenIdle(t *testing.T) {
	ctrl := newTestController(t)
	ctrl.Pause()
	assert.Equal(t, StateIdle, ctrl.State())
	ctrl.Resume()
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestDownloadRejectsInvalidURL(t *testing.T) {
	ctrl := newTestController(t)
	for _, url := range []string{"", "ftp://example.com/file", "not a url", "http://"} {
		_, err := ctrl.DownloadFile(context.Background(), url, nil)
		var invalidErr *utils.InvalidURLError
		assert.ErrorAs(t, err, &invalidErr, "url %q", url)
	}
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestDownloadImageKeepsStateMachine(t *testing.T) {
	content := []byte("raw bytes, not an image")
	server := newDripServer(t, content, len(content), 0)
	defer server.Close()

	ctrl := newTestController(t)
	sink := newRecordingSink()
	result, err := ctrl.DownloadImage(context.Background(), server.URL+"/blob.bin", sink)
	require.NoError(t, err)
	assert.Equal(t, content, result.Data)

	samples := sink.all()
	require.GreaterOrEqual(t, len(samples), 2)
	assert.Equal(t, sample{0, 0}, samples[len(samples)-1])
	assert.Equal(t, StateIdle, ctrl.State())
}
