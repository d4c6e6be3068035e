package utils

const DefaultBufferSize = 512 * 1024 // 512KB

// ProgressSink receives progress updates from an active download. Percent is
// in [0,100] (0 while the total size is unknown) and speed is the
// instantaneous per-chunk rate in bytes per second. Implementations must
// tolerate the terminal sentinel pair (100, 0) then (0, 0) after completion.
type ProgressSink interface {
	OnProgress(percent float64, speedBps float64)
}

// SinkFunc adapts a plain function to a ProgressSink.
type SinkFunc func(percent float64, speedBps float64)

func (f SinkFunc) OnProgress(percent float64, speedBps float64) {
	f(percent, speedBps)
}

// DownloadEntry is one item of a YAML batch list.
type DownloadEntry struct {
	OutputPath  string `yaml:"op"`
	URL         string `yaml:"link"`
	Connections int    `yaml:"connections"`
}
