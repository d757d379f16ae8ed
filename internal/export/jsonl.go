package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

const (
	defaultJSONLDirMode  os.FileMode = 0o755
	defaultJSONLFileMode os.FileMode = 0o600
)

// JSONLFileSink appends one envelope per line to a local file. Consumers
// read event ranges from it; ordering across events is not guaranteed
// beyond append order.
type JSONLFileSink struct {
	Path     string
	DirMode  os.FileMode
	FileMode os.FileMode

	mu sync.Mutex
}

// Export appends one envelope to disk.
func (s *JSONLFileSink) Export(_ context.Context, event telemetry.Event) error {
	if s == nil || s.Path == "" {
		return fmt.Errorf("jsonl sink path is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	dirMode := s.DirMode
	if dirMode == 0 {
		dirMode = defaultJSONLDirMode
	}
	fileMode := s.FileMode
	if fileMode == 0 {
		fileMode = defaultJSONLFileMode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.Path), dirMode); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("open export file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadJSONLEvents loads every envelope from a JSONL export file.
func ReadJSONLEvents(path string) ([]telemetry.Event, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}
	var events []telemetry.Event
	decoder := json.NewDecoder(bytes.NewReader(raw))
	for decoder.More() {
		var event telemetry.Event
		if err := decoder.Decode(&event); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, event)
	}
	return events, nil
}
