// Package mongo implements the metadata repository on a MongoDB collection.
// Every status transition is an atomic upsert keyed on url, so concurrent
// workers racing on the same URL resolve last-writer-wins without breaking
// record invariants.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/baechuer/urlmeta/internal/domain"
)

const (
	indexUniqueURL = "uq_metadata_url"
	indexCreatedAt = "idx_metadata_created_at"
)

type Repository struct {
	coll   *mongo.Collection
	client *mongo.Client
}

// NewRepository wraps a collection. client may be nil when the caller owns
// the connection lifecycle.
func NewRepository(coll *mongo.Collection, client *mongo.Client) *Repository {
	return &Repository{coll: coll, client: client}
}

// EnsureIndexes creates the unique url index and the created_at secondary
// index. Bootstrap concern, not part of the repository port.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(indexUniqueURL),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetName(indexCreatedAt),
		},
	})
	return err
}

func (r *Repository) EnsureRecord(ctx context.Context, url string, pctx domain.ProcessingContext) error {
	now := time.Now().UTC()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"url": url},
		bson.M{
			"$setOnInsert": bson.M{
				"url":      url,
				"status":   domain.StatusPending,
				"metadata": domain.EmptyMetadata(),
				"processing": bson.M{
					"attempt_number":  pctx.AttemptNumber,
					"error_msg":       nil,
					"last_attempt_at": now,
					"last_request_id": pctx.RequestID,
				},
				"created_at": now,
			},
			"$set": bson.M{"updated_at": now},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *Repository) MarkInProgress(ctx context.Context, url string, pctx domain.ProcessingContext) error {
	now := time.Now().UTC()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"url": url},
		bson.M{
			"$setOnInsert": bson.M{
				"url":        url,
				"metadata":   domain.EmptyMetadata(),
				"created_at": now,
			},
			"$set": bson.M{
				"status":                     domain.StatusInProgress,
				"processing.attempt_number":  pctx.AttemptNumber,
				"processing.error_msg":       nil,
				"processing.last_attempt_at": now,
				"processing.last_request_id": pctx.RequestID,
				"updated_at":                 now,
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *Repository) MarkCompleted(ctx context.Context, url string, pctx domain.ProcessingContext, metadata domain.MetadataBlock) error {
	now := time.Now().UTC()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"url": url},
		bson.M{
			"$setOnInsert": bson.M{
				"url":        url,
				"created_at": now,
			},
			"$set": bson.M{
				"status":                     domain.StatusCompleted,
				"metadata":                   metadata,
				"processing.attempt_number":  pctx.AttemptNumber,
				"processing.error_msg":       nil,
				"processing.last_attempt_at": now,
				"processing.last_request_id": pctx.RequestID,
				"updated_at":                 now,
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

// MarkRetryableFailure writes the failure and returns the attempt number as
// stored AFTER the write.
func (r *Repository) MarkRetryableFailure(ctx context.Context, url string, pctx domain.ProcessingContext, errMsg string) (int, error) {
	now := time.Now().UTC()
	res := r.coll.FindOneAndUpdate(ctx,
		bson.M{"url": url},
		bson.M{
			"$setOnInsert": bson.M{
				"url":        url,
				"metadata":   domain.EmptyMetadata(),
				"created_at": now,
			},
			"$set": bson.M{
				"status":                     domain.StatusFailedRetryable,
				"processing.error_msg":       errMsg,
				"processing.last_attempt_at": now,
				"processing.last_request_id": pctx.RequestID,
				"processing.attempt_number":  pctx.AttemptNumber,
				"updated_at":                 now,
			},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var doc domain.MetadataRecord
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return pctx.AttemptNumber, nil
		}
		return pctx.AttemptNumber, err
	}
	return doc.Processing.AttemptNumber, nil
}

func (r *Repository) MarkPermanentFailure(ctx context.Context, url string, pctx domain.ProcessingContext, errMsg string) error {
	now := time.Now().UTC()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"url": url},
		bson.M{
			"$setOnInsert": bson.M{
				"url":        url,
				"metadata":   domain.EmptyMetadata(),
				"created_at": now,
			},
			"$set": bson.M{
				"status":                     domain.StatusFailedPermanent,
				"processing.error_msg":       errMsg,
				"processing.last_attempt_at": now,
				"processing.last_request_id": pctx.RequestID,
				"processing.attempt_number":  pctx.AttemptNumber,
				"updated_at":                 now,
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

// GetByURL returns the record or nil when no document matches.
func (r *Repository) GetByURL(ctx context.Context, url string) (*domain.MetadataRecord, error) {
	var doc domain.MetadataRecord
	err := r.coll.FindOne(ctx, bson.M{"url": url}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx, readpref.Primary())
}

func (r *Repository) Close(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Disconnect(ctx)
}
