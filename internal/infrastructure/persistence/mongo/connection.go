package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/baechuer/urlmeta/internal/backoff"
)

// Connect dials the store and verifies it with a ping, retrying with the
// given backoff policy. Exhausting the attempt budget returns the last error.
func Connect(ctx context.Context, uri string, connectTimeout time.Duration, policy backoff.Policy, lg zerolog.Logger) (*mongo.Client, error) {
	log := lg.With().Str("component", "mongo").Logger()

	var client *mongo.Client
	err := backoff.Retry(ctx, policy, func(attempt int, delay time.Duration) error {
		log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("mongo connect attempt")

		opts := options.Client().
			ApplyURI(uri).
			SetConnectTimeout(connectTimeout).
			SetServerSelectionTimeout(connectTimeout)

		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			log.Warn().Err(err).Msg("mongo connect failed")
			return err
		}

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := c.Ping(pingCtx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.Background())
			log.Warn().Err(err).Msg("mongo ping failed")
			return err
		}

		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	log.Info().Msg("mongo connected")
	return client, nil
}
