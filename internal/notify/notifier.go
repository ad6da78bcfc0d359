package notify

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const subscriberQueueSize = 64

type SubscriberID int

// Notifier fans committed state transitions out to in-process subscribers.
// The external real-time transport subscribes here; this core only
// guarantees each notification is published once, after commit.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[SubscriberID]chan Notification
	lastSubID   SubscriberID
	logger      *zap.Logger

	emitted *prometheus.CounterVec
	dropped prometheus.Counter
}

func NewNotifier(logger *zap.Logger, reg prometheus.Registerer) *Notifier {
	n := &Notifier{
		subscribers: make(map[SubscriberID]chan Notification),
		logger:      logger,
	}
	if reg != nil {
		n.emitted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamup_notifications_emitted_total",
			Help: "Notifications emitted, by kind",
		}, []string{"kind"})
		n.dropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamup_notifications_dropped_total",
			Help: "Notifications dropped because a subscriber queue was full",
		})
		reg.MustRegister(n.emitted, n.dropped)
	}
	return n
}

// Subscribe registers a new subscriber and returns its id and channel.
// Delivery is best-effort: a subscriber that stops draining loses events
// rather than blocking publishers.
func (n *Notifier) Subscribe() (SubscriberID, <-chan Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.lastSubID++
	ch := make(chan Notification, subscriberQueueSize)
	n.subscribers[n.lastSubID] = ch
	return n.lastSubID, ch
}

func (n *Notifier) Unsubscribe(id SubscriberID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ch, ok := n.subscribers[id]; ok {
		delete(n.subscribers, id)
		close(ch)
	}
}

func (n *Notifier) Publish(notification Notification) {
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.emitted != nil {
		n.emitted.WithLabelValues(string(notification.Kind)).Inc()
	}

	for id, ch := range n.subscribers {
		select {
		case ch <- notification:
		default:
			if n.dropped != nil {
				n.dropped.Inc()
			}
			n.logger.Warn("dropping notification for slow subscriber",
				zap.Int("subscriber_id", int(id)),
				zap.String("kind", string(notification.Kind)))
		}
	}
}

// Close unsubscribes everyone. Publishing after Close is a no-op delivery.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subscribers {
		delete(n.subscribers, id)
		close(ch)
	}
}
