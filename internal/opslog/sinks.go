package opslog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// LogSink writes events to logrus. Failures log at warn, everything else at info.
type LogSink struct {
	Log *logrus.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Emit(_ context.Context, ev Event) error {
	entry := s.Log.WithFields(logrus.Fields{
		"event_id": ev.ID,
		"event":    ev.Kind,
	})
	if ev.Bot != "" {
		entry = entry.WithField("bot", ev.Bot)
	}
	if ev.Recipient != "" {
		entry = entry.WithField("recipient", ev.Recipient)
	}
	if ev.Error != "" {
		entry.WithField("error", ev.Error).Warn(ev.Message)
		return nil
	}
	entry.Info(ev.Message)
	return nil
}

// Poster sends a plain-text message to a chat.
type Poster interface {
	Post(ctx context.Context, chatID, text string) error
}

// ChannelSink posts events to the hub's operational log channel.
type ChannelSink struct {
	Poster    Poster
	ChannelID string
}

func (ChannelSink) Name() string { return "channel" }

func (s ChannelSink) Emit(ctx context.Context, ev Event) error {
	if s.ChannelID == "" {
		return nil
	}
	return s.Poster.Post(ctx, s.ChannelID, FormatEvent(ev))
}

// FormatEvent renders an event as a short human-readable line.
func FormatEvent(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", ev.Kind)
	if ev.Bot != "" {
		fmt.Fprintf(&b, " bot=%s", ev.Bot)
	}
	if ev.Recipient != "" {
		fmt.Fprintf(&b, " recipient=%s", ev.Recipient)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, " %s", ev.Message)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, ": %s", ev.Error)
	}
	return b.String()
}

// publisher is the subset of *amqp.Channel the AMQP sink uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events as JSON to a topic exchange with routing key
// "relayhub.<kind>".
type AMQPSink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       publisher
	exchange string
}

// DialAMQP connects to a broker and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("opslog: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opslog: amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opslog: declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (*AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Emit(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("opslog: marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.PublishWithContext(ctx, s.exchange, "relayhub."+string(ev.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch.Close()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
