// Package droptest provides in-memory MetadataStore and BlobStore
// implementations with the same atomicity semantics as the real
// adapters. Used by engine, sweeper and handler tests.
package droptest

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"dropbin/internal/drop"
)

// MetadataStore is a mutex-guarded map with the per-id linearizability
// the engine requires from a real backend.
type MetadataStore struct {
	mu    sync.Mutex
	drops map[string]*drop.Drop

	// FailNext, when set, is returned by the next mutating call and
	// then cleared. Lets tests exercise the transient-error paths.
	FailNext error
}

// NewMetadataStore returns an empty store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{drops: make(map[string]*drop.Drop)}
}

func (s *MetadataStore) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *MetadataStore) Insert(_ context.Context, d *drop.Drop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.drops[d.ID]; ok {
		return drop.ErrConflict
	}
	cp := *d
	s.drops[d.ID] = &cp
	return nil
}

func (s *MetadataStore) Get(_ context.Context, id string) (*drop.Drop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drops[id]
	if !ok {
		return nil, drop.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MetadataStore) IncrementDownload(_ context.Context, id string) (*drop.Drop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drops[id]
	if !ok {
		return nil, drop.ErrNotFound
	}
	if d.Status != drop.StatusActive {
		return nil, drop.ErrExpired
	}
	if d.MaxDownloads != nil && d.DownloadCount >= *d.MaxDownloads {
		return nil, drop.ErrLimitExceeded
	}
	d.DownloadCount++
	cp := *d
	return &cp, nil
}

func (s *MetadataStore) MarkExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drops[id]; ok && d.Status == drop.StatusActive {
		d.Status = drop.StatusExpired
	}
	return nil
}

func (s *MetadataStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	delete(s.drops, id)
	return nil
}

func (s *MetadataStore) ListExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, d := range s.drops {
		if len(ids) >= limit {
			break
		}
		exhausted := d.MaxDownloads != nil && d.DownloadCount >= *d.MaxDownloads
		if drop.IsExpired(d, now) || exhausted {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MetadataStore) OriginUsage(_ context.Context, origin string) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	var size int64
	for _, d := range s.drops {
		if d.Origin == origin && d.Status == drop.StatusActive {
			count++
			size += d.SizeBytes
		}
	}
	return count, size, nil
}

func (s *MetadataStore) GlobalUsage(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var size int64
	for _, d := range s.drops {
		if d.Status == drop.StatusActive {
			size += d.SizeBytes
		}
	}
	return size, nil
}

func (s *MetadataStore) HasObjectKey(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.drops {
		if d.ObjectKey == key {
			return true, nil
		}
	}
	return false, nil
}

// Len reports the number of stored rows.
func (s *MetadataStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drops)
}

type blobObject struct {
	data     []byte
	modified time.Time
}

// BlobStore keeps objects in memory. Writes become visible only once
// Put returns, matching the write-then-visible contract.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string]blobObject

	// PutErr, when set, fails every Put. DeleteErr likewise for Delete.
	PutErr    error
	DeleteErr error
}

// NewBlobStore returns an empty blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]blobObject)}
}

func (s *BlobStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (int64, error) {
	if s.PutErr != nil {
		return 0, s.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = blobObject{data: data, modified: time.Now()}
	return int64(len(data)), nil
}

func (s *BlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, drop.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *BlobStore) Delete(_ context.Context, key string) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *BlobStore) List(_ context.Context) ([]drop.BlobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]drop.BlobInfo, 0, len(s.objects))
	for key, obj := range s.objects {
		infos = append(infos, drop.BlobInfo{Key: key, LastModified: obj.modified})
	}
	return infos, nil
}

// SetModified backdates an object for reconciliation tests.
func (s *BlobStore) SetModified(key string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[key]; ok {
		obj.modified = t
		s.objects[key] = obj
	}
}

// Len reports the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
