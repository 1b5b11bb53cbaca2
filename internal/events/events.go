package events

import (
	"context"
	"sync"
	"time"

	"points-ledger-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventTransactionRecorded is emitted after a ledger entry commits.
	EventTransactionRecorded EventType = "transaction.recorded"
	// EventCheckInCompleted is emitted when a daily check-in is accepted.
	EventCheckInCompleted EventType = "checkin.completed"
	// EventStreakMilestone is emitted when a streak bonus fires. The
	// notification service subscribes to this; dispatch is outside this core.
	EventStreakMilestone EventType = "streak.milestone"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// TransactionRecordedData contains data for transaction recorded events.
type TransactionRecordedData struct {
	Transaction models.Transaction
}

// CheckInCompletedData contains data for check-in completed events.
type CheckInCompletedData struct {
	UserID        string
	ActivityType  string
	PointsAwarded int
	StreakDays    int
}

// StreakMilestoneData contains data for streak milestone events.
type StreakMilestoneData struct {
	UserID        string
	StreakDays    int
	PointsAwarded int
	AwardedAt     time.Time
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing. Handlers run
// asynchronously; their errors are swallowed so a slow or failing subscriber
// never affects the originating operation.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				_ = err
			}
		}(handler)
	}
}

// PublishTransactionRecorded publishes a transaction recorded event.
func (m *Manager) PublishTransactionRecorded(ctx context.Context, txn models.Transaction) {
	m.Publish(ctx, EventTransactionRecorded, TransactionRecordedData{Transaction: txn})
}

// PublishCheckInCompleted publishes a check-in completed event.
func (m *Manager) PublishCheckInCompleted(ctx context.Context, result models.CheckInResult) {
	m.Publish(ctx, EventCheckInCompleted, CheckInCompletedData{
		UserID:        result.UserID,
		ActivityType:  result.ActivityType,
		PointsAwarded: result.PointsAwarded,
		StreakDays:    result.StreakDays,
	})
}

// PublishStreakMilestone publishes a streak milestone event.
func (m *Manager) PublishStreakMilestone(ctx context.Context, record models.StreakBonusRecord) {
	m.Publish(ctx, EventStreakMilestone, StreakMilestoneData{
		UserID:        record.UserID,
		StreakDays:    record.StreakDays,
		PointsAwarded: record.PointsAwarded,
		AwardedAt:     record.AwardedAt,
	})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}
