package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
)

// Durable is the backing tier of the dual-tier store. The filesystem
// implementation is the only one spec.md names (§6.4): one file per
// session, UTF-8 JSON, written atomically via write-temp + rename.
type Durable interface {
	Get(ctx context.Context, id string) (*Context, bool, error)
	Put(ctx context.Context, ctxVal *Context) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// FilesystemStore implements Durable over a directory of
// `{id}.json` files.
type FilesystemStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewFilesystemStore ensures baseDir exists and returns a store
// rooted there.
func NewFilesystemStore(baseDir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apierrors.New("session.NewFilesystemStore", "backend", fmt.Errorf("%w: %v", apierrors.ErrBackendUnavailable, err))
	}
	return &FilesystemStore{baseDir: baseDir}, nil
}

func (f *FilesystemStore) path(id string) string {
	return filepath.Join(f.baseDir, id+".json")
}

func (f *FilesystemStore) Get(_ context.Context, id string) (*Context, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apierrors.New("session.Durable.Get", "backend", fmt.Errorf("%w: %v", apierrors.ErrBackendUnavailable, err)).WithID(id)
	}
	var out Context
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, apierrors.New("session.Durable.Get", "corrupt", fmt.Errorf("%w: %v", apierrors.ErrCorruptRecord, err)).WithID(id)
	}
	return &out, true, nil
}

// Put writes ctxVal atomically: a temp file in the same directory
// followed by an os.Rename, so a concurrent Get never observes a
// partially-written record.
func (f *FilesystemStore) Put(_ context.Context, ctxVal *Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(ctxVal, "", "  ")
	if err != nil {
		return apierrors.New("session.Durable.Put", "encode", err).WithID(ctxVal.SessionID)
	}

	tmp, err := os.CreateTemp(f.baseDir, ctxVal.SessionID+".tmp-*")
	if err != nil {
		return apierrors.New("session.Durable.Put", "backend", fmt.Errorf("%w: %v", apierrors.ErrBackendUnavailable, err)).WithID(ctxVal.SessionID)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apierrors.New("session.Durable.Put", "backend", fmt.Errorf("%w: %v", apierrors.ErrBackendUnavailable, err)).WithID(ctxVal.SessionID)
	}
	if err := tmp.Close(); err != nil {
		return apierrors.New("session.Durable.Put", "backend", fmt.Errorf("%w: %v", apierrors.ErrBackendUnavailable, err)).WithID(ctxVal.SessionID)
	}
	if err := os.Rename(tmpPath, f.path(ctxVal.SessionID)); err != nil {
		return apierrors.New("session.Durable.Put", "backend", fmt.Errorf("%w: %v", apierrors.ErrBackendUnavailable, err)).WithID(ctxVal.SessionID)
	}
	return nil
}

func (f *FilesystemStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return apierrors.New("session.Durable.Delete", "backend", fmt.Errorf("%w: %v", apierrors.ErrBackendUnavailable, err)).WithID(id)
	}
	return nil
}

func (f *FilesystemStore) List(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, apierrors.New("session.Durable.List", "backend", fmt.Errorf("%w: %v", apierrors.ErrBackendUnavailable, err))
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && filepath.Ext(name) == ".json" {
			ids = append(ids, name[:len(name)-len(".json")])
		}
	}
	return ids, nil
}
