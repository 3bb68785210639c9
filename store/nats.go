package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// NatsStore keeps device records in a JetStream key/value bucket
type NatsStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	logger *zap.Logger
}

func NewNatsStore(ctx context.Context, natsURL, bucket string, logger *zap.Logger) (*NatsStore, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("wattwatch"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "wattwatch device records",
		History:     1,
	})
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create KV bucket: %w", err)
	}

	logger.Info("Connected to NATS key/value bucket", zap.String("bucket", bucket))

	return &NatsStore{
		nc:     nc,
		kv:     kv,
		logger: logger,
	}, nil
}

func (n *NatsStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := n.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	return entry.Value(), nil
}

func (n *NatsStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := n.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	return nil
}

// Extend is a compare-and-set on the entry revision. A concurrent writer makes it fail
// instead of silently dropping either update.
func (n *NatsStore) Extend(ctx context.Context, key string, fields map[string]any) error {
	entry, err := n.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		merged, mergeErr := mergeFields(nil, fields)
		if mergeErr != nil {
			return mergeErr
		}
		if _, err := n.kv.Create(ctx, key, merged); err != nil {
			return fmt.Errorf("failed to create key %s: %w", key, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get key %s: %w", key, err)
	}

	merged, err := mergeFields(entry.Value(), fields)
	if err != nil {
		return err
	}

	if _, err := n.kv.Update(ctx, key, merged, entry.Revision()); err != nil {
		return fmt.Errorf("failed to update key %s: %w", key, err)
	}
	return nil
}

func (n *NatsStore) Create(ctx context.Context, key string, value []byte) (bool, error) {
	_, err := n.kv.Create(ctx, key, value)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create key %s: %w", key, err)
	}
	return true, nil
}

func (n *NatsStore) Close() error {
	n.nc.Close()

	return nil
}

var _ Store = (*NatsStore)(nil)
