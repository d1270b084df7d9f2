package chatlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileLog implements Log using a single JSONL file, one turn per line.
type FileLog struct {
	path   string
	mu     sync.Mutex
	closed bool
}

// NewFileLog creates a file-backed chat log. If path is empty, uses
// ~/.aria/chatlog.jsonl.
func NewFileLog(path string) (*FileLog, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, ".aria", "chatlog.jsonl")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create chat log directory: %w", err)
	}

	return &FileLog{path: path}, nil
}

// Append persists one finalized turn.
func (l *FileLog) Append(_ context.Context, turn Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open chat log: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write turn: %w", err)
	}

	return nil
}

// Recent returns up to n of the most recent turns, oldest first.
func (l *FileLog) Recent(_ context.Context, n int) ([]Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrLogClosed
	}

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Turn{}, nil
		}
		return nil, fmt.Errorf("open chat log: %w", err)
	}
	defer func() { _ = file.Close() }()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var turn Turn
		if err := json.Unmarshal(scanner.Bytes(), &turn); err != nil {
			// Skip torn lines from an interrupted write.
			continue
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan chat log: %w", err)
	}

	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}

// Close marks the log closed.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	return nil
}
