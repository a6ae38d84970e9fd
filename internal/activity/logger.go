package activity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playbookhq/readiness-engine/internal/metrics"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

const (
	// DefaultFeedLimit is used when a caller asks for a non-positive number of events.
	DefaultFeedLimit = 50
	// MaxFeedLimit caps a single feed page.
	MaxFeedLimit = 500
)

// Store persists activity feed events.
type Store interface {
	InsertActivity(ctx context.Context, event models.ActivityFeedEvent) error
	ListActivity(ctx context.Context, orgID string, limit int) ([]models.ActivityFeedEvent, error)
}

// Publisher fans persisted events out to an event bus.
type Publisher interface {
	PublishActivity(ctx context.Context, event models.ActivityFeedEvent) error
}

// Recorder is the narrow dependency other components use to emit events.
type Recorder interface {
	LogActivity(ctx context.Context, orgID string, event models.ActivityFeedEvent) (models.ActivityFeedEvent, error)
}

// Logger appends events to the per-organization activity feed.
type Logger struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewLogger constructs a Logger; publisher may be nil when no event bus is configured.
func NewLogger(store Store, publisher Publisher, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// LogActivity validates, stamps and stores event for orgID. The event bus publish is best effort.
func (l *Logger) LogActivity(ctx context.Context, orgID string, event models.ActivityFeedEvent) (models.ActivityFeedEvent, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return models.ActivityFeedEvent{}, utils.NewAppError("log activity", "organization id is required", nil)
	}
	if strings.TrimSpace(event.EventType) == "" {
		return models.ActivityFeedEvent{}, utils.NewAppError("log activity", "event type is required", nil)
	}
	if strings.TrimSpace(event.Title) == "" {
		return models.ActivityFeedEvent{}, utils.NewAppError("log activity", "title is required", nil)
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}
	if !event.Severity.Valid() {
		return models.ActivityFeedEvent{}, utils.NewAppError("log activity", fmt.Sprintf("unknown severity %q", event.Severity), nil)
	}

	event.ID = uuid.NewString()
	event.OrganizationID = orgID
	event.CreatedAt = l.now().UTC()

	if err := l.store.InsertActivity(ctx, event); err != nil {
		return models.ActivityFeedEvent{}, fmt.Errorf("insert activity event: %w", err)
	}

	if l.publisher != nil {
		if err := l.publisher.PublishActivity(ctx, event); err != nil {
			metrics.ActivityPublishFailed()
			l.logger.Warn("activity publish failed",
				slog.String("organization_id", orgID),
				slog.String("event_type", event.EventType),
				slog.Any("error", err),
			)
		}
	}
	return event, nil
}

// GetActivityFeed returns the newest events for orgID.
func (l *Logger) GetActivityFeed(ctx context.Context, orgID string, limit int) ([]models.ActivityFeedEvent, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, utils.NewAppError("get activity feed", "organization id is required", nil)
	}
	events, err := l.store.ListActivity(ctx, orgID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list activity events: %w", err)
	}
	return events, nil
}

// ClampLimit applies the default and maximum feed page sizes.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultFeedLimit
	case limit > MaxFeedLimit:
		return MaxFeedLimit
	default:
		return limit
	}
}
