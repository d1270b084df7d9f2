package chatlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func turn(sender, text string) Turn {
	return Turn{Sender: sender, Text: text, Timestamp: time.Now().UTC()}
}

func setupFileLog(t *testing.T) *FileLog {
	t.Helper()

	log, err := NewFileLog(filepath.Join(t.TempDir(), "chatlog.jsonl"))
	if err != nil {
		t.Fatalf("NewFileLog failed: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func setupRedisLog(t *testing.T) *RedisLog {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := NewRedisLogFromClient(client, "test:chatlog", 0)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func testAppendAndRecent(t *testing.T, log Log) {
	ctx := context.Background()

	for _, tr := range []Turn{
		turn("user", "hi"),
		turn("assistant", "hello there"),
		turn("user", "what time is it"),
		turn("assistant", "half past three"),
	} {
		if err := log.Append(ctx, tr); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	turns, err := log.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	// Oldest first, and only the latest three survive the cut.
	if turns[0].Text != "hello there" {
		t.Errorf("first turn = %q, want %q", turns[0].Text, "hello there")
	}
	if turns[2].Text != "half past three" {
		t.Errorf("last turn = %q, want %q", turns[2].Text, "half past three")
	}
	if turns[2].Sender != "assistant" {
		t.Errorf("last sender = %q, want assistant", turns[2].Sender)
	}
}

func testRecentOnEmptyLog(t *testing.T, log Log) {
	turns, err := log.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent on empty log failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("got %d turns from empty log, want 0", len(turns))
	}
}

func TestFileLog_AppendAndRecent(t *testing.T) {
	testAppendAndRecent(t, setupFileLog(t))
}

func TestFileLog_RecentOnEmptyLog(t *testing.T) {
	testRecentOnEmptyLog(t, setupFileLog(t))
}

func TestFileLog_ClosedLogRejectsWrites(t *testing.T) {
	log := setupFileLog(t)
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := log.Append(context.Background(), turn("user", "x")); err != ErrLogClosed {
		t.Errorf("Append after Close = %v, want ErrLogClosed", err)
	}
}

func TestFileLog_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatlog.jsonl")
	ctx := context.Background()

	log, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("NewFileLog failed: %v", err)
	}
	if err := log.Append(ctx, turn("user", "remember me")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("NewFileLog (reopen) failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	turns, err := reopened.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "remember me" {
		t.Errorf("reopened log = %+v, want single 'remember me' turn", turns)
	}
}

func TestRedisLog_AppendAndRecent(t *testing.T) {
	testAppendAndRecent(t, setupRedisLog(t))
}

func TestRedisLog_RecentOnEmptyLog(t *testing.T) {
	testRecentOnEmptyLog(t, setupRedisLog(t))
}

func TestRedisLog_TrimsToBound(t *testing.T) {
	log := setupRedisLog(t)
	ctx := context.Background()

	for i := 0; i < maxStoredTurns+50; i++ {
		if err := log.Append(ctx, turn("user", "filler")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	turns, err := log.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(turns) > maxStoredTurns {
		t.Errorf("log holds %d turns, want at most %d", len(turns), maxStoredTurns)
	}
}
