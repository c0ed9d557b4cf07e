package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// LogSink writes notifications to a zap logger
type LogSink struct {
	Logger *zap.Logger
}

// NewLogSink creates a new LogSink instance
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{Logger: logger}
}

// Notify implements domain.NotificationSink
func (s *LogSink) Notify(n domain.Notification) {
	if n.Severity == domain.SeverityError {
		s.Logger.Warn(n.Message, zap.String("severity", string(n.Severity)))
		return
	}
	s.Logger.Info(n.Message, zap.String("severity", string(n.Severity)))
}

// Queue keeps notifications until they are drained by a reader.
// The oldest entries are dropped once Limit is reached.
type Queue struct {
	mu    sync.Mutex
	items []domain.Notification
	Limit int
}

// DefaultQueueLimit bounds a Queue created by NewQueue
const DefaultQueueLimit = 100

// NewQueue creates a new Queue instance
func NewQueue() *Queue {
	return &Queue{Limit: DefaultQueueLimit}
}

// Notify implements domain.NotificationSink
func (q *Queue) Notify(n domain.Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, n)
	if q.Limit > 0 && len(q.items) > q.Limit {
		q.items = q.items[len(q.items)-q.Limit:]
	}
}

// Drain returns every queued notification and empties the queue
func (q *Queue) Drain() []domain.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Fanout forwards every notification to each sink
type Fanout []domain.NotificationSink

// Notify implements domain.NotificationSink
func (f Fanout) Notify(n domain.Notification) {
	for _, sink := range f {
		sink.Notify(n)
	}
}
