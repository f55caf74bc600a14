package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"perp-backend/internal/domain"
)

// EventSink receives every event the notifier fans out.
type EventSink interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Notifier is the single reporting channel of the trading core. Emit never
// blocks; when the buffer is full the event is logged and dropped.
type Notifier struct {
	log     *logrus.Entry
	metrics *Metrics
	events  chan domain.Event
	dropped atomic.Int64

	mu    sync.RWMutex
	sinks []EventSink
}

func NewNotifier(log *logrus.Entry, metrics *Metrics, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{
		log:     log.WithField("component", "notifier"),
		metrics: metrics,
		events:  make(chan domain.Event, buffer),
	}
}

// AddSink registers a sink. Safe to call while Run is active.
func (n *Notifier) AddSink(s EventSink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

func (n *Notifier) Emit(e domain.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Severity == "" {
		e.Severity = domain.SeverityInfo
	}
	select {
	case n.events <- e:
	default:
		n.dropped.Add(1)
		n.logEvent(e).Warn("event buffer full, dropping")
	}
}

// Report turns an error into an event, picking severity from the error kind.
func (n *Notifier) Report(kind domain.EventKind, symbol, message string, err error) {
	n.Emit(domain.Event{
		Kind:     kind,
		Severity: severityOf(err),
		Symbol:   symbol,
		Message:  message,
		Error:    simplify(err),
	})
}

// Dropped reports how many events were lost to a full buffer.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

// Run delivers events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.events:
			n.deliver(ctx, e)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, e domain.Event) {
	entry := n.logEvent(e)
	switch e.Severity {
	case domain.SeverityFatal, domain.SeverityError:
		entry.Error(e.Message)
	case domain.SeverityWarn:
		entry.Warn(e.Message)
	default:
		entry.Info(e.Message)
	}
	if n.metrics != nil {
		n.metrics.events.WithLabelValues(string(e.Kind), string(e.Severity)).Inc()
	}

	n.mu.RLock()
	sinks := append([]EventSink(nil), n.sinks...)
	n.mu.RUnlock()

	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.Publish(sctx, e); err != nil {
			n.log.WithError(err).WithField("kind", e.Kind).Warn("sink publish failed")
		}
		cancel()
	}
}

func (n *Notifier) logEvent(e domain.Event) *logrus.Entry {
	fields := logrus.Fields{"kind": e.Kind, "severity": e.Severity}
	if e.Symbol != "" {
		fields["symbol"] = e.Symbol
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	for k, v := range e.Fields {
		fields[k] = v
	}
	return n.log.WithFields(fields)
}

func severityOf(err error) domain.Severity {
	switch {
	case err == nil:
		return domain.SeverityInfo
	case domain.IsFatal(err):
		return domain.SeverityFatal
	case errors.Is(err, domain.ErrTransient), errors.Is(err, domain.ErrPositionCapReached):
		return domain.SeverityWarn
	}
	return domain.SeverityError
}

type simplifier interface {
	Simplified() string
}

// simplify prefers the adapter's operator message when there is one.
func simplify(err error) string {
	if err == nil {
		return ""
	}
	var s simplifier
	if errors.As(err, &s) {
		return s.Simplified()
	}
	if errors.Is(err, domain.ErrInsufficientMargin) {
		return domain.ErrInsufficientMargin.Error()
	}
	return err.Error()
}

// LogSink persists every delivered event to an event log.
type LogSink struct {
	Log domain.EventLog
}

func (s LogSink) Publish(ctx context.Context, e domain.Event) error {
	return s.Log.Append(ctx, e)
}
