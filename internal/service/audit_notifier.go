package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"repartition/internal/domain"
)

type AuditEventType string

const (
	AuditRecordCommitted AuditEventType = "record_committed"
	AuditRecordDeleted   AuditEventType = "record_deleted"
	AuditRuleUpdated     AuditEventType = "rule_updated"
	AuditRuleRemoved     AuditEventType = "rule_removed"
	AuditRulesImported   AuditEventType = "rules_imported"
)

var ErrNotifierClosed = errors.New("audit notifier is shut down")

type AuditEvent struct {
	Type         AuditEventType       `json:"type"`
	RecordID     string               `json:"record_id,omitempty"`
	CaseNumber   string               `json:"case_number,omitempty"`
	RuleKey      domain.Category      `json:"rule_key,omitempty"`
	RuleVersion  int                  `json:"rule_version,omitempty"`
	User         string               `json:"user,omitempty"`
	Overridden   bool                 `json:"overridden,omitempty"`
	Acknowledged []domain.WarningCode `json:"acknowledged,omitempty"`
	OccurredAt   time.Time            `json:"occurred_at"`
}

// AuditSink delivers audit events to wherever the hosting application keeps
// its audit trail.
type AuditSink interface {
	Publish(ctx context.Context, event AuditEvent) error
}

// AuditNotifier fans audit events out to its sinks from a pool of workers so
// callers never wait on delivery. Shutdown drains the queue.
type AuditNotifier struct {
	sinks   []AuditSink
	queue   chan AuditEvent
	workers int
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewAuditNotifier(workers int, logger *slog.Logger, sinks ...AuditSink) *AuditNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}

	n := &AuditNotifier{
		sinks:   sinks,
		queue:   make(chan AuditEvent, 1000),
		workers: workers,
		logger:  logger,
	}

	n.startWorkers()

	return n
}

// Notify queues event. It blocks only while the queue is full.
func (n *AuditNotifier) Notify(ctx context.Context, event AuditEvent) error {
	if n == nil {
		return nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	select {
	case n.queue <- event:
		n.logger.DebugContext(ctx, "Audit event queued",
			slog.String("type", string(event.Type)),
			slog.String("record_id", event.RecordID),
			slog.String("rule_key", string(event.RuleKey)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *AuditNotifier) startWorkers() {
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}
}

func (n *AuditNotifier) worker(id int) {
	defer n.wg.Done()

	n.logger.Debug("Audit worker started", slog.Int("worker_id", id))

	for event := range n.queue {
		n.deliver(event, id)
	}

	n.logger.Debug("Audit worker stopping", slog.Int("worker_id", id))
}

func (n *AuditNotifier) deliver(event AuditEvent, workerID int) {
	for _, sink := range n.sinks {
		startTime := time.Now()
		err := sink.Publish(context.Background(), event)
		duration := time.Since(startTime)

		if err != nil {
			n.logger.Error("Failed to publish audit event",
				slog.String("type", string(event.Type)),
				slog.String("record_id", event.RecordID),
				slog.String("error", err.Error()),
				slog.Int("worker_id", workerID),
				slog.Duration("duration", duration))
		}
	}
}

func (n *AuditNotifier) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Audit notifier shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink writes audit events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, event AuditEvent) error {
	s.logger.InfoContext(ctx, "Audit event",
		slog.String("event", string(event.Type)),
		slog.String("module", "repartition"),
		slog.String("record_id", event.RecordID),
		slog.String("case_number", event.CaseNumber),
		slog.String("rule_key", string(event.RuleKey)),
		slog.Int("rule_version", event.RuleVersion),
		slog.String("user", event.User),
		slog.Bool("overridden", event.Overridden),
		slog.Time("occurred_at", event.OccurredAt))
	return nil
}

// MemorySink keeps published events; used by tests and local runs.
type MemorySink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *MemorySink) Publish(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}
