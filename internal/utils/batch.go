package utils

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReadDownloadList parses a YAML batch file of download entries.
func ReadDownloadList(path string) ([]DownloadEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading download list: %w", err)
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing download list: %w", err)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("entry %d is missing a link", i+1)
		}
	}
	return entries, nil
}
