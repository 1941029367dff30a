// Package store owns the canonical configuration document and persists it
// through a pluggable backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"configdeck/api/internal/jsondoc"
)

var (
	ErrRevisionMismatch = errors.New("document revision mismatch")
	ErrPersist          = errors.New("persist document")
)

// DocumentStore holds the current document in memory. Every replace is
// written through to the backend before it returns.
type DocumentStore struct {
	mu       sync.RWMutex
	backend  Backend
	logger   logrus.FieldLogger
	doc      any
	revision int64
}

// NewDocumentStore loads the persisted document. A missing or unreadable
// document starts the store with an empty object.
func NewDocumentStore(ctx context.Context, backend Backend, logger logrus.FieldLogger) *DocumentStore {
	s := &DocumentStore{backend: backend, logger: logger, revision: 1}
	s.doc = s.load(ctx)
	return s
}

func (s *DocumentStore) load(ctx context.Context) any {
	data, err := s.backend.Load(ctx)
	if errors.Is(err, ErrNoDocument) {
		s.logger.Info("no stored document, starting empty")
		return jsondoc.NewObject()
	}
	if err != nil {
		s.logger.WithError(err).Warn("failed to read stored document, starting empty")
		return jsondoc.NewObject()
	}
	doc, err := jsondoc.Parse(data)
	if err != nil {
		s.logger.WithError(err).Warn("stored document is not valid JSON, starting empty")
		return jsondoc.NewObject()
	}
	s.logger.WithField("bytes", len(data)).Info("loaded stored document")
	return doc
}

// Current returns the document and its revision. The value is shared and
// must not be modified.
func (s *DocumentStore) Current() (any, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc, s.revision
}

// Replace swaps in doc and persists it. A non-zero ifRevision must equal the
// current revision. When the backend write fails the in-memory document stays
// replaced and the returned error wraps ErrPersist.
func (s *DocumentStore) Replace(ctx context.Context, doc any, ifRevision int64) (int64, error) {
	data, err := jsondoc.MarshalIndent(doc, "  ")
	if err != nil {
		return 0, fmt.Errorf("encode document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ifRevision != 0 && ifRevision != s.revision {
		return s.revision, fmt.Errorf("%w: have %d, got %d", ErrRevisionMismatch, s.revision, ifRevision)
	}
	s.doc = doc
	s.revision++

	if err := s.backend.Save(ctx, data); err != nil {
		s.logger.WithError(err).WithField("revision", s.revision).Error("failed to persist document")
		return s.revision, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return s.revision, nil
}

// Reset replaces the document with an empty object.
func (s *DocumentStore) Reset(ctx context.Context) (int64, error) {
	return s.Replace(ctx, jsondoc.NewObject(), 0)
}

// Encoded returns the current document as indented JSON.
func (s *DocumentStore) Encoded() ([]byte, int64, error) {
	doc, revision := s.Current()
	data, err := jsondoc.MarshalIndent(doc, "  ")
	if err != nil {
		return nil, 0, fmt.Errorf("encode document: %w", err)
	}
	return data, revision, nil
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}
