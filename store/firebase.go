package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirebaseStore keeps device records in a Firebase Realtime Database.
// Dotted keys map to nested paths below root.
type FirebaseStore struct {
	client *db.Client
	root   string
	logger *zap.Logger
}

// NewFirebaseClient opens a Realtime Database client from a service account JSON document
func NewFirebaseClient(ctx context.Context, dbURL, serviceAccountJSON string) (*db.Client, error) {
	conf := &firebase.Config{
		DatabaseURL: dbURL,
	}

	opt := option.WithCredentialsJSON([]byte(serviceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}
	return client, nil
}

func NewFirebaseStore(ctx context.Context, dbURL, serviceAccountJSON, root string, logger *zap.Logger) (*FirebaseStore, error) {
	client, err := NewFirebaseClient(ctx, dbURL, serviceAccountJSON)
	if err != nil {
		return nil, err
	}

	fs := &FirebaseStore{
		client: client,
		root:   strings.Trim(root, "/"),
		logger: logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseStore) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var data json.RawMessage
		err := fs.client.NewRef(fs.root).Get(ctx, &data)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

func (fs *FirebaseStore) ref(key string) *db.Ref {
	path := strings.ReplaceAll(key, ".", "/")
	if fs.root != "" {
		path = fs.root + "/" + path
	}
	return fs.client.NewRef(path)
}

func (fs *FirebaseStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data json.RawMessage
	if err := fs.ref(key).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error getting %s: %w", key, err)
	}
	if isNull(data) {
		return nil, ErrNotFound
	}
	return data, nil
}

func (fs *FirebaseStore) Set(ctx context.Context, key string, value []byte) error {
	if err := fs.ref(key).Set(ctx, json.RawMessage(value)); err != nil {
		return fmt.Errorf("error setting %s: %w", key, err)
	}
	return nil
}

// Extend uses a multi-path update so sibling fields stay untouched
func (fs *FirebaseStore) Extend(ctx context.Context, key string, fields map[string]any) error {
	if err := fs.ref(key).Update(ctx, fields); err != nil {
		return fmt.Errorf("error updating %s: %w", key, err)
	}
	return nil
}

func (fs *FirebaseStore) Create(ctx context.Context, key string, value []byte) (bool, error) {
	created := false

	err := fs.ref(key).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var current json.RawMessage
		if err := node.Unmarshal(&current); err != nil {
			return nil, err
		}
		if !isNull(current) {
			created = false
			return current, nil
		}
		created = true
		return json.RawMessage(value), nil
	})
	if err != nil {
		return false, fmt.Errorf("error creating %s: %w", key, err)
	}

	return created, nil
}

// Close closes the Firebase connection
func (fs *FirebaseStore) Close() error {
	fs.logger.Info("Closing Firebase store")
	// Firebase client doesn't require explicit closing but we log it
	return nil
}

func isNull(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	return trimmed == "" || trimmed == "null"
}

var _ Store = (*FirebaseStore)(nil)
