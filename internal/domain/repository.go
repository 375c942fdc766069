package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type insertCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// AuditRepository persists audit events in MongoDB.
type AuditRepository struct {
	collection insertCollection
}

// NewAuditRepository constructs an AuditRepository.
func NewAuditRepository(collection insertCollection) *AuditRepository {
	return &AuditRepository{collection: collection}
}

// Create inserts an audit event, assigning an ID and timestamp when missing.
func (r *AuditRepository) Create(ctx context.Context, event AuditEvent) (AuditEvent, error) {
	if r == nil || r.collection == nil {
		return AuditEvent{}, errors.New("audit repository is not initialized")
	}
	if ctx == nil {
		return AuditEvent{}, errors.New("context is required")
	}
	if event.Action == "" {
		return AuditEvent{}, errors.New("action is required")
	}
	if event.UserID == 0 {
		return AuditEvent{}, errors.New("user_id is required")
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	if _, err := r.collection.InsertOne(ctx, event); err != nil {
		return AuditEvent{}, fmt.Errorf("insert audit event: %w", err)
	}

	return event, nil
}
