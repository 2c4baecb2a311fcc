// Package notify fans security notifications out to delivery channels.
// Publishing never blocks the caller: notifications pass through a
// bounded queue that sheds its oldest entry under pressure, and a
// single worker drains the queue to every registered channel.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-gate/internal/schema"
)

// DefaultQueueSize bounds the pending notification queue.
const DefaultQueueSize = 256

// sendTimeout bounds a single channel delivery. One stuck channel must
// not wedge the worker for the rest of the queue.
const sendTimeout = 15 * time.Second

// Notification is the payload delivered to channels.
type Notification struct {
	EventID   string             `json:"event_id"`
	Type      schema.EventType   `json:"type"`
	Level     schema.ThreatLevel `json:"level"`
	IP        string             `json:"ip,omitempty"`
	Content   string             `json:"content"`
	Blocked   bool               `json:"blocked"`
	Rules     []string           `json:"rules,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// FromEvent builds a notification from a recorded event and the IDs of
// the rules that fired on it.
func FromEvent(event *schema.SecurityEvent, ruleIDs []string) *Notification {
	return &Notification{
		EventID:   event.ID,
		Type:      event.Type,
		Level:     event.Level,
		IP:        event.IP,
		Content:   event.Content,
		Blocked:   event.Blocked,
		Rules:     ruleIDs,
		Timestamp: event.Timestamp,
	}
}

// Channel delivers notifications to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *Notification) error
}

// Config configures the notifier.
type Config struct {
	QueueSize int                `yaml:"queue_size"`
	MinLevel  schema.ThreatLevel `yaml:"min_level"`
}

// DefaultConfig returns the default notifier configuration. Only HIGH
// and CRITICAL events are forwarded unless configured otherwise.
func DefaultConfig() Config {
	return Config{
		QueueSize: DefaultQueueSize,
		MinLevel:  schema.LevelHigh,
	}
}

// Notifier dispatches notifications to registered channels from a
// bounded queue.
type Notifier struct {
	mu       sync.RWMutex
	channels []Channel

	queue    chan *Notification
	minLevel schema.ThreatLevel
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// New creates a notifier with the given configuration.
func New(cfg Config, logger *slog.Logger) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if !cfg.MinLevel.IsValid() {
		cfg.MinLevel = schema.LevelHigh
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		channels: make([]Channel, 0),
		queue:    make(chan *Notification, cfg.QueueSize),
		minLevel: cfg.MinLevel,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddChannel registers a delivery channel.
func (n *Notifier) AddChannel(channel Channel) {
	n.mu.Lock()
	n.channels = append(n.channels, channel)
	n.mu.Unlock()
	n.logger.Info("added notification channel", "name", channel.Name())
}

// Publish enqueues a notification for delivery. Notifications below
// the configured minimum level are ignored. Publish never blocks: when
// the queue is full the oldest pending notification is shed to make
// room.
func (n *Notifier) Publish(msg *Notification) {
	if msg == nil || msg.Level.Rank() < n.minLevel.Rank() {
		return
	}
	n.published.Add(1)

	select {
	case n.queue <- msg:
		return
	default:
	}

	// Queue full: shed the oldest entry, then retry once. A concurrent
	// publisher may win the freed slot, in which case this notification
	// is the one dropped.
	select {
	case old := <-n.queue:
		n.dropped.Add(1)
		n.logger.Warn("notification queue full, dropping oldest",
			"dropped_event", old.EventID,
			"dropped_type", old.Type)
	default:
	}

	select {
	case n.queue <- msg:
	default:
		n.dropped.Add(1)
	}
}

// Start launches the delivery worker.
func (n *Notifier) Start() {
	n.wg.Add(1)
	go n.worker()
	n.logger.Info("notifier started",
		"queue_size", cap(n.queue),
		"min_level", n.minLevel)
}

// Stop halts delivery and waits for the worker to exit. Notifications
// still queued are discarded.
func (n *Notifier) Stop() {
	n.cancel()
	n.wg.Wait()
	n.logger.Info("notifier stopped",
		"delivered", n.delivered.Load(),
		"failed", n.failed.Load(),
		"dropped", n.dropped.Load())
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case msg := <-n.queue:
			n.deliver(msg)
		}
	}
}

// deliver sends one notification to every channel in registration
// order. A failing channel does not stop delivery to the rest.
func (n *Notifier) deliver(msg *Notification) {
	n.mu.RLock()
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.RUnlock()

	for _, channel := range channels {
		ctx, cancel := context.WithTimeout(n.ctx, sendTimeout)
		err := channel.Send(ctx, msg)
		cancel()
		if err != nil {
			n.failed.Add(1)
			n.logger.Error("notification delivery failed",
				"channel", channel.Name(),
				"event_id", msg.EventID,
				"error", err)
			continue
		}
		n.delivered.Add(1)
		n.logger.Debug("notification delivered",
			"channel", channel.Name(),
			"event_id", msg.EventID)
	}
}

// Stats returns notifier statistics.
func (n *Notifier) Stats() map[string]interface{} {
	n.mu.RLock()
	channelCount := len(n.channels)
	n.mu.RUnlock()

	return map[string]interface{}{
		"channels":  channelCount,
		"queued":    len(n.queue),
		"published": n.published.Load(),
		"dropped":   n.dropped.Load(),
		"delivered": n.delivered.Load(),
		"failed":    n.failed.Load(),
		"min_level": string(n.minLevel),
	}
}
