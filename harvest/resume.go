package harvest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ResumeState tracks windowed-harvest progress across interruptible runs.
// Absence of the file means "newest window, offset zero".
type ResumeState struct {
	WinIndex     int    `json:"win_index"`
	PageOffset   int    `json:"page_offset"`
	TotalSaved   int    `json:"total_saved"`
	DupCounter   int    `json:"dup_counter"`
	PagesInSlice int    `json:"pages_in_slice"`
	Updated      string `json:"updated,omitempty"`
}

func LoadResume(path string) ResumeState {
	data, err := os.ReadFile(path)
	if err != nil {
		return ResumeState{}
	}
	var state ResumeState
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn().Str("path", path).Str("err", err.Error()).Msg("unparseable resume file, starting fresh")
		return ResumeState{}
	}
	return state
}

// SaveResume persists the state atomically and stamps the update time.
func SaveResume(path string, state ResumeState) error {
	state.Updated = time.Now().UTC().Format(time.RFC3339)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create resume directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := filepath.Join(dir, fmt.Sprintf("resume_%s.json", uuid.New().String()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write resume temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace resume file: %w", err)
	}
	return nil
}
