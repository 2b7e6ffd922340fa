package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"animify-backend/internal/models"
)

// JobQueue pushes generation jobs onto the per-type Redis lists the worker pool drains.
type JobQueue struct {
	redis *redis.Client
}

func NewJobQueue(redisClient *redis.Client) *JobQueue {
	return &JobQueue{redis: redisClient}
}

func (q *JobQueue) Enqueue(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.redis.LPush(ctx, models.QueueName(job.Type), string(jobBytes)).Err(); err != nil {
		return fmt.Errorf("enqueue %s job: %w", job.Type, err)
	}
	return nil
}

// UpdatesChannel is the Redis pub/sub channel carrying one owner's media events.
func UpdatesChannel(ownerID uuid.UUID) string {
	return "media_updates:" + ownerID.String()
}

// Publisher sends WebSocket updates via Redis pub/sub
type Publisher struct {
	redis *redis.Client
}

func NewPublisher(redisClient *redis.Client) *Publisher {
	return &Publisher{redis: redisClient}
}

func (p *Publisher) PublishUpdate(ctx context.Context, ownerID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to encode %s update for %s: %v", msg.Type, ownerID, err)
		return
	}
	if err := p.redis.Publish(ctx, UpdatesChannel(ownerID), string(data)).Err(); err != nil {
		log.Printf("Failed to publish %s update for %s: %v", msg.Type, ownerID, err)
	}
}
