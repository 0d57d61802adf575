package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"l7agent/pkg/requester"
)

// ErrInvalidRunID is returned for ids that cannot be used as a file name
var ErrInvalidRunID = errors.New("invalid run id")

// Store keeps run summaries as indented JSON files, one per run
type Store struct {
	basePath string
}

// NewStore creates the directory if needed
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}
	return filepath.Join(s.basePath, id+".json"), nil
}

// Save writes the summary under its run id, replacing an older file
func (s *Store) Save(summary *requester.Summary) error {
	p, err := s.path(summary.RunID)
	if err != nil {
		return err
	}

	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")

	return encoder.Encode(summary)
}

// Load reads the summary of one run
func (s *Store) Load(id string) (*requester.Summary, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var summary requester.Summary
	if err := json.NewDecoder(f).Decode(&summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary %s: %w", id, err)
	}
	return &summary, nil
}

// RunInfo contains metadata about a stored summary
type RunInfo struct {
	ID         string    `json:"id"`
	ModifiedAt time.Time `json:"modifiedAt"`
	FileSizeKB int64     `json:"fileSizeKB"`
}

// List returns the stored summaries, oldest first
func (s *Store) List() ([]RunInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	var runs []RunInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		runs = append(runs, RunInfo{
			ID:         strings.TrimSuffix(entry.Name(), ".json"),
			ModifiedAt: info.ModTime(),
			FileSizeKB: info.Size() / 1024,
		})
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].ModifiedAt.Before(runs[j].ModifiedAt)
	})
	return runs, nil
}
