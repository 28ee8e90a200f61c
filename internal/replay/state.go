package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const defaultStatePath = "~/.propensity/replay-state.json"

// State tracks progress for resumable replay runs.
type State struct {
	StartedAt           time.Time `json:"started_at"`
	LastProcessedAt     time.Time `json:"last_processed_at"`
	FilesProcessed      []string  `json:"files_processed"`
	Fingerprints        []string  `json:"fingerprints"`
	FilesRemaining      int       `json:"files_remaining"`
	ConversationsScored int       `json:"conversations_scored"`
	PredictionsMade     int       `json:"predictions_made"`
	Errors              []string  `json:"errors"`

	path string // not serialized
}

// LoadState loads replay state from path, or starts a new one. An empty
// path uses ~/.propensity/replay-state.json.
func LoadState(path string) (*State, error) {
	if path == "" {
		path = defaultStatePath
	}
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{
				StartedAt: time.Now().UTC(),
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	return &s, nil
}

// Save persists the state to disk.
func (s *State) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

func (s *State) Path() string { return s.path }

// IsProcessed returns true if the given file has already been replayed.
func (s *State) IsProcessed(path string) bool {
	return slices.Contains(s.FilesProcessed, path)
}

// MarkProcessed records a file and its content fingerprint as replayed.
func (s *State) MarkProcessed(path, fingerprint string) {
	s.FilesProcessed = append(s.FilesProcessed, path)
	if fingerprint != "" {
		s.Fingerprints = append(s.Fingerprints, fingerprint)
	}
}

// Seen reports whether a transcript with this content was already replayed.
func (s *State) Seen(fingerprint string) bool {
	return slices.Contains(s.Fingerprints, fingerprint)
}

// AddError records a processing error.
func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
