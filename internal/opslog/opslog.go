// Package opslog reports operational events (delivery failures, session
// failures, registrations) to a set of sinks: the process log, the hub's
// log channel and an optional AMQP exchange.
package opslog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind classifies an operational event.
type Kind string

const (
	KindDeliveryFailure     Kind = "delivery_failure"
	KindSessionStartFailure Kind = "session_start_failure"
	KindSessionStarted      Kind = "session_started"
	KindSessionStopped      Kind = "session_stopped"
	KindBotRegistered       Kind = "bot_registered"
	KindBotDisconnected     Kind = "bot_disconnected"
	KindMappingsPruned      Kind = "mappings_pruned"
)

// Event is one operational occurrence. Bot is a display label, never a raw
// credential.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Bot       string    `json:"bot,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Sink receives operational events.
type Sink interface {
	Name() string
	Emit(ctx context.Context, ev Event) error
}

// Reporter fans events out to every sink. A failing sink is logged and never
// blocks the others.
type Reporter struct {
	log   *logrus.Logger
	sinks []Sink
}

// NewReporter creates a Reporter. A nil logger uses logrus.StandardLogger().
func NewReporter(log *logrus.Logger, sinks ...Sink) *Reporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reporter{log: log, sinks: sinks}
}

// AddSink registers another sink. Not safe to call concurrently with Report.
func (r *Reporter) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Report stamps ev with an id and time and emits it to every sink.
func (r *Reporter) Report(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, s := range r.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			r.log.WithFields(logrus.Fields{
				"sink":  s.Name(),
				"event": ev.Kind,
			}).WithError(err).Warn("opslog: sink emit failed")
		}
	}
}
