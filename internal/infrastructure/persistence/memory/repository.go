// Package memory provides an in-memory metadata repository. It backs unit
// tests and the local/demo mode selected via REPOSITORY_BACKEND=memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/baechuer/urlmeta/internal/domain"
)

type Repository struct {
	mu   sync.RWMutex
	docs map[string]*domain.MetadataRecord

	// PingErr, when set, makes Ping fail. Test hook.
	PingErr error
}

func New() *Repository {
	return &Repository{docs: make(map[string]*domain.MetadataRecord)}
}

func (r *Repository) EnsureRecord(_ context.Context, url string, pctx domain.ProcessingContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if doc, ok := r.docs[url]; ok {
		doc.UpdatedAt = now
		return nil
	}
	r.docs[url] = &domain.MetadataRecord{
		URL:      url,
		Status:   domain.StatusPending,
		Metadata: domain.EmptyMetadata(),
		Processing: domain.ProcessingState{
			AttemptNumber: pctx.AttemptNumber,
			LastAttemptAt: now,
			LastRequestID: pctx.RequestID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (r *Repository) MarkInProgress(_ context.Context, url string, pctx domain.ProcessingContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	doc := r.upsertLocked(url, now)
	doc.Status = domain.StatusInProgress
	doc.Processing.AttemptNumber = pctx.AttemptNumber
	doc.Processing.ErrorMsg = ""
	doc.Processing.LastAttemptAt = now
	doc.Processing.LastRequestID = pctx.RequestID
	doc.UpdatedAt = now
	return nil
}

func (r *Repository) MarkCompleted(_ context.Context, url string, pctx domain.ProcessingContext, metadata domain.MetadataBlock) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	doc := r.upsertLocked(url, now)
	doc.Status = domain.StatusCompleted
	doc.Metadata = metadata
	doc.Processing.AttemptNumber = pctx.AttemptNumber
	doc.Processing.ErrorMsg = ""
	doc.Processing.LastAttemptAt = now
	doc.Processing.LastRequestID = pctx.RequestID
	doc.UpdatedAt = now
	return nil
}

func (r *Repository) MarkRetryableFailure(_ context.Context, url string, pctx domain.ProcessingContext, errMsg string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	doc := r.upsertLocked(url, now)
	doc.Status = domain.StatusFailedRetryable
	doc.Processing.AttemptNumber = pctx.AttemptNumber
	doc.Processing.ErrorMsg = errMsg
	doc.Processing.LastAttemptAt = now
	doc.Processing.LastRequestID = pctx.RequestID
	doc.UpdatedAt = now
	return doc.Processing.AttemptNumber, nil
}

func (r *Repository) MarkPermanentFailure(_ context.Context, url string, pctx domain.ProcessingContext, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	doc := r.upsertLocked(url, now)
	doc.Status = domain.StatusFailedPermanent
	doc.Processing.AttemptNumber = pctx.AttemptNumber
	doc.Processing.ErrorMsg = errMsg
	doc.Processing.LastAttemptAt = now
	doc.Processing.LastRequestID = pctx.RequestID
	doc.UpdatedAt = now
	return nil
}

// GetByURL returns a copy of the record, or nil when absent.
func (r *Repository) GetByURL(_ context.Context, url string) (*domain.MetadataRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[url]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (r *Repository) Ping(context.Context) error { return r.PingErr }

func (r *Repository) Close(context.Context) error { return nil }

// Put seeds a record directly. Test hook.
func (r *Repository) Put(doc domain.MetadataRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := doc
	r.docs[doc.URL] = &cp
}

func (r *Repository) upsertLocked(url string, now time.Time) *domain.MetadataRecord {
	doc, ok := r.docs[url]
	if !ok {
		doc = &domain.MetadataRecord{
			URL:       url,
			Metadata:  domain.EmptyMetadata(),
			CreatedAt: now,
		}
		r.docs[url] = doc
	}
	return doc
}
