package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/askhuman/errors"
)

// Node names the step a checkpointed conversation runs next.
type Node string

const (
	NodeAssistant Node = "assistant"
	NodeTools     Node = "tools"
	NodeHuman     Node = "human"
	NodeEnd       Node = "__end__"
)

// ErrNotFound is returned by a Store for an unknown session id.
var ErrNotFound = fmt.Errorf("session not found")

// Checkpoint is the latest conversation state of one session plus the node
// that runs next.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Next      Node      `json:"next"`
	Step      int       `json:"step"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates the checkpoint for the first message of a session.
func New(sessionID string) *Checkpoint {
	return &Checkpoint{
		SessionID: sessionID,
		Next:      NodeEnd,
		UpdatedAt: time.Now(),
	}
}

// Touch records that a step ran.
func (c *Checkpoint) Touch() {
	c.Step++
	c.UpdatedAt = time.Now()
}

// Clone returns a deep enough copy for the store to keep independently of the
// caller's handle.
func (c *Checkpoint) Clone() *Checkpoint {
	cp := *c
	cp.State.Messages = append(Log(nil), c.State.Messages...)
	return &cp
}

// Store keeps checkpoints keyed by session id.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Checkpoint, error)
	Put(ctx context.Context, cp *Checkpoint) error
	List(ctx context.Context) ([]string, error)
}

// Load returns the checkpoint for sessionID, creating a fresh one when the
// store has none.
func Load(ctx context.Context, store Store, sessionID string) (*Checkpoint, error) {
	cp, err := store.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return New(sessionID), nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// MemoryStore keeps checkpoints for the lifetime of the process.
type MemoryStore struct {
	mu          sync.Mutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]*Checkpoint)}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cp.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.SessionID] = cp.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.checkpoints))
	for id := range s.checkpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// FileStore writes one JSON file per session into a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create session directory")
	}
	return &FileStore{dir: dir}, nil
}

// DefaultDir is where session files live relative to the working directory.
func DefaultDir() string {
	return filepath.Join(".askhuman", "sessions")
}

// path maps a session id to its file. Ids that could leave the store
// directory are rejected.
func (s *FileStore) path(sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || strings.Contains(sessionID, "..") ||
		strings.ContainsAny(sessionID, `/\`) || filepath.Base(sessionID) != sessionID {
		return "", errors.CallerState("invalid session id %q", sessionID)
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", sessionID)), nil
}

func (s *FileStore) Get(_ context.Context, sessionID string) (*Checkpoint, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	return &cp, nil
}

func (s *FileStore) Put(_ context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	path, err := s.path(cp.SessionID)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list sessions")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
