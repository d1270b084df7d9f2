// Package memory is the companion's long-term memory: a small append-only
// entry store with term-overlap search. It favors being cheap and local
// over clever; the model curates what goes in through its memory tools.
package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// minObservedLen filters noise turns ("ok", "yeah") out of passive
// observation.
const minObservedLen = 24

var termRe = regexp.MustCompile(`[\p{L}0-9]{3,}`)

// Entry is one stored memory.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a JSONL-backed memory store.
type Store struct {
	path string

	mu      sync.Mutex
	entries []Entry
}

// NewStore loads entries from path (default ~/.aria/memory.jsonl).
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, ".aria", "memory.jsonl")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create memory directory: %w", err)
	}

	s := &Store{path: path}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		s.entries = append(s.entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan memory store: %w", err)
	}
	return s, nil
}

// AddEntry stores one memory entry.
func (s *Store) AddEntry(_ context.Context, kind, content string, tags []string) error {
	if content == "" {
		return fmt.Errorf("memory content is required")
	}
	if kind == "" {
		kind = "fact"
	}

	e := Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendLocked(e); err != nil {
		return err
	}
	s.entries = append(s.entries, e)
	return nil
}

// Search scores entries by query-term overlap (tags count double) and
// returns the best matches, formatted for prompt injection.
func (s *Store) Search(_ context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := extractTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		entry Entry
		score int
	}
	var hits []scored
	for _, e := range s.entries {
		score := 0
		content := strings.ToLower(e.Content)
		for term := range terms {
			if strings.Contains(content, term) {
				score++
			}
			for _, tag := range e.Tags {
				if strings.ToLower(tag) == term {
					score += 2
				}
			}
		}
		if score > 0 {
			hits = append(hits, scored{entry: e, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.CreatedAt.After(hits[j].entry.CreatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, fmt.Sprintf("[%s] %s", h.entry.Kind, h.entry.Content))
	}
	return out, nil
}

// Observe passively records substantial user turns as observations so
// later searches can surface them. Assistant turns are not stored.
func (s *Store) Observe(ctx context.Context, sender, text string) error {
	if sender != "user" || len(text) < minObservedLen {
		return nil
	}
	return s.AddEntry(ctx, "observation", text, nil)
}

func (s *Store) appendLocked(e Entry) error {
	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

func extractTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, m := range termRe.FindAllString(strings.ToLower(text), -1) {
		terms[m] = struct{}{}
	}
	return terms
}
