package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"videogen/internal/telemetry"
)

// RedisSink publishes events to a per-owner pub/sub channel. The transport
// layer (websocket gateway, SSE bridge) subscribes to user:{owner}:videos.
type RedisSink struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisSink wraps an existing Redis client.
func NewRedisSink(client *redis.Client, log zerolog.Logger) *RedisSink {
	return &RedisSink{client: client, log: log}
}

// Channel returns the pub/sub channel name for an owner.
func Channel(ownerID string) string {
	return fmt.Sprintf("user:%s:videos", ownerID)
}

// Publish sends the change set to the owner's channel. Errors are logged and
// dropped; a missed notification is recovered by the subscriber re-reading
// job state.
func (s *RedisSink) Publish(ctx context.Context, ownerID, jobID string, changes map[string]any) {
	payload, err := json.Marshal(Event{JobID: jobID, Changes: changes})
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("notify: marshal event")
		return
	}
	if err := s.client.Publish(ctx, Channel(ownerID), payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("notify: publish failed")
		return
	}
	telemetry.NotificationsPublished.Inc()
}
