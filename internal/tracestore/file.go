package tracestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// RecordTypeConversationState tags conversation-state lines in the log.
const RecordTypeConversationState = "conversation_state"

const maxLineBytes = 16 << 20

type conversationRecord struct {
	RecordType string            `json:"record_type"`
	SenderID   string            `json:"sender_id"`
	State      ConversationState `json:"state"`
}

// FileStore appends every trace and conversation-state change to an NDJSON
// log and serves reads from indices rebuilt by replaying the log on open.
// The log is never rewritten.
type FileStore struct {
	path string

	mu  sync.Mutex // serializes appends
	f   *os.File
	idx *MemoryStore
}

// OpenFile replays path (if present) and opens it for appending.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	s := &FileStore{path: path, idx: NewMemoryStore()}
	if err := s.replay(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace log: %w", err)
	}
	s.f = f
	return s, nil
}

func (s *FileStore) replay() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open trace log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var probe struct {
			RecordType string `json:"record_type"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			slog.Warn("Skipping malformed trace log line", "path", s.path, "line", lineNo, "error", err)
			continue
		}
		switch probe.RecordType {
		case RecordTypeConversationState:
			var rec conversationRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				slog.Warn("Skipping malformed conversation record", "path", s.path, "line", lineNo, "error", err)
				continue
			}
			s.idx.convs[rec.SenderID] = rec.State
		case "":
			var t Trace
			if err := json.Unmarshal(line, &t); err != nil || t.TraceID == "" {
				slog.Warn("Skipping malformed trace record", "path", s.path, "line", lineNo, "error", err)
				continue
			}
			s.idx.putTrace(&t)
		default:
			slog.Warn("Skipping unknown record type", "path", s.path, "line", lineNo, "record_type", probe.RecordType)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("replay trace log: %w", err)
	}
	return nil
}

func (s *FileStore) append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("file store closed")
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("append trace log: %w", err)
	}
	return nil
}

func (s *FileStore) SaveTrace(ctx context.Context, t *Trace) error {
	if err := s.append(t); err != nil {
		return err
	}
	return s.idx.SaveTrace(ctx, t)
}

func (s *FileStore) GetTrace(ctx context.Context, traceID string) (*Trace, error) {
	return s.idx.GetTrace(ctx, traceID)
}

func (s *FileStore) GetIdempotency(ctx context.Context, messageID string) (*IdempotencyRecord, error) {
	return s.idx.GetIdempotency(ctx, messageID)
}

// SaveIdempotency only updates the in-memory index. After a restart the record
// is rebuilt from the owning trace's output.
func (s *FileStore) SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error {
	return s.idx.SaveIdempotency(ctx, rec)
}

func (s *FileStore) GetConversationState(ctx context.Context, senderKey string) (*ConversationState, error) {
	return s.idx.GetConversationState(ctx, senderKey)
}

func (s *FileStore) SaveConversationState(ctx context.Context, senderKey string, state ConversationState) error {
	rec := conversationRecord{RecordType: RecordTypeConversationState, SenderID: senderKey, State: state}
	if err := s.append(rec); err != nil {
		return err
	}
	return s.idx.SaveConversationState(ctx, senderKey, state)
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
