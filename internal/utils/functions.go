package utils

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DeriveFileName derives an output file name from the last path segment of a
// URL. An empty segment (URL ending in "/", or no path at all) synthesizes a
// timestamped name with a default extension.
func DeriveFileName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err == nil {
		segments := strings.Split(parsed.Path, "/")
		name := segments[len(segments)-1]
		if name != "" {
			return name
		}
	}
	return fmt.Sprintf("download-%d.bin", time.Now().Unix())
}

// TempDirFor returns the scratch directory used for in-flight part files of a
// given output path.
func TempDirFor(outputPath string) string {
	return filepath.Join(filepath.Dir(outputPath), ".flux-temp")
}

// CleanTemp removes any leftover part files for outputPath, and the scratch
// directory itself once empty.
func CleanTemp(outputPath string) error {
	tempDir := TempDirFor(outputPath)
	files, err := os.ReadDir(tempDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	partPrefix := filepath.Base(outputPath) + ".part"
	for _, file := range files {
		if strings.HasPrefix(file.Name(), partPrefix) {
			if err := os.Remove(filepath.Join(tempDir, file.Name())); err != nil {
				return err
			}
		}
	}
	remaining, err := os.ReadDir(tempDir)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return os.Remove(tempDir)
	}
	return nil
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bps float64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	formatted := FormatBytes(uint64(bps))
	return formatted[:len(formatted)-1] + "B/s" // Slice off "B" and add "B/s"
}
