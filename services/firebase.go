package services

import (
	"context"
	"encoding/json"
	"time"

	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
)

const processedCacheLimit = 500

// FirebaseReadingPoller polls power readings that plugs push into a Realtime Database path
// and hands the new ones to a sink. Records are keyed by push id and carry state, value and timestamp.
type FirebaseReadingPoller struct {
	client   *db.Client
	path     string
	interval time.Duration
	sink     ReadingSink
	logger   *zap.Logger
}

func NewFirebaseReadingPoller(client *db.Client, path string, sink ReadingSink, logger *zap.Logger) *FirebaseReadingPoller {
	return &FirebaseReadingPoller{
		client:   client,
		path:     path,
		interval: 3 * time.Second,
		sink:     sink,
		logger:   logger,
	}
}

// Start polls until ctx is cancelled
func (p *FirebaseReadingPoller) Start(ctx context.Context) {
	ref := p.client.NewRef(p.path)

	// Track last read timestamp and processed records
	lastReadTime := time.Now().Add(-1 * time.Minute)
	processed := make(map[string]bool)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Starting Firebase reading polling", zap.String("path", p.path))
	defer p.logger.Info("Firebase polling stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Needs an .indexOn rule for timestamp on the readings path
			query := ref.OrderByChild("timestamp").StartAt(lastReadTime.Format(time.RFC3339))

			var data map[string]json.RawMessage
			if err := query.Get(ctx, &data); err != nil {
				p.logger.Error("Error getting power readings", zap.Error(err))
				continue
			}

			lastReadTime = p.process(data, processed, lastReadTime)

			if len(processed) > processedCacheLimit {
				processed = make(map[string]bool)
				p.logger.Debug("Cleaned processed records cache")
			}
		}
	}
}

// process forwards records newer than checkpoint and returns the new checkpoint
func (p *FirebaseReadingPoller) process(data map[string]json.RawMessage, processed map[string]bool, checkpoint time.Time) time.Time {
	latest := checkpoint
	count := 0

	for id, raw := range data {
		if processed[id] {
			continue
		}

		reading, err := decodeReading(raw, "")
		if err != nil {
			p.logger.Warn("Skipping malformed power reading", zap.String("record_id", id), zap.Error(err))
			processed[id] = true
			continue
		}
		if !reading.Timestamp.After(checkpoint) {
			continue
		}

		processed[id] = true
		p.sink.Update(reading)
		count++

		if reading.Timestamp.After(latest) {
			latest = reading.Timestamp
		}
	}

	if count > 0 {
		p.logger.Debug("Processed new power readings",
			zap.Int("count", count),
			zap.Time("checkpoint", latest))
	}
	return latest
}
