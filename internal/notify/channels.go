package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"

	"sentinel-gate/internal/csp"
	"sentinel-gate/internal/logging"
)

// LogChannel writes notifications to the structured log.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log-backed channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, msg *Notification) error {
	// Content comes from the attacker and may embed captured credentials.
	l.logger.Warn("security notification",
		"event_id", msg.EventID,
		"type", msg.Type,
		"level", msg.Level,
		"ip", msg.IP,
		"blocked", msg.Blocked,
		"rules", msg.Rules,
		"content", logging.ScrubText(msg.Content))
	return nil
}

// WebhookChannel posts notifications as JSON to an HTTP endpoint.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, msg *Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// KafkaChannel publishes notifications to a Kafka topic. Messages are
// keyed by source IP when present so one attacker's events keep
// partition order.
type KafkaChannel struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaChannel creates a Kafka-backed channel.
func NewKafkaChannel(brokers []string, topic string, logger *slog.Logger) *KafkaChannel {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Info("kafka notification channel initialized",
		"brokers", brokers,
		"topic", topic)

	return &KafkaChannel{writer: writer, logger: logger}
}

func (k *KafkaChannel) Name() string {
	return "kafka"
}

func (k *KafkaChannel) Send(ctx context.Context, msg *Notification) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := msg.IP
	if key == "" {
		key = msg.EventID
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *KafkaChannel) Close() error {
	return k.writer.Close()
}

// ReportForwarder posts CSP violation reports to an external
// collector. It satisfies csp.ReportSink.
type ReportForwarder struct {
	url    string
	client *http.Client
}

// NewReportForwarder creates a forwarder targeting the given collector
// endpoint.
func NewReportForwarder(url string) *ReportForwarder {
	return &ReportForwarder{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (f *ReportForwarder) ForwardReport(report *csp.ViolationReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal violation report: %w", err)
	}

	req, err := http.NewRequest("POST", f.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/csp-report")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("report forward failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("report collector returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
