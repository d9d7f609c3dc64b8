package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/authcore"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Default queue names.
const (
	AlertQueue = "authcore.security.alerts"
	OTPQueue   = "authcore.mfa.otp"
)

var ErrPublisherClosed = errors.New("publisher closed")

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Queues names the destination queues. Empty names use the defaults.
type Queues struct {
	Alerts string
	OTP    string
}

func (q Queues) withDefaults() Queues {
	if q.Alerts == "" {
		q.Alerts = AlertQueue
	}
	if q.OTP == "" {
		q.OTP = OTPQueue
	}
	return q
}

// Publisher implements authcore.AlertSink and authcore.OTPSender on top of
// a single AMQP channel. Publishes are serialized because amqp channels
// are not safe for concurrent use.
type Publisher struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     amqpChannel
	queues Queues
	now    func() time.Time
	closed bool
}

var (
	_ authcore.AlertSink = (*Publisher)(nil)
	_ authcore.OTPSender = (*Publisher)(nil)
)

// Dial connects to url, opens a channel and declares both queues as
// durable.
func Dial(url string, queues Queues) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	p, err := newPublisher(ch, queues)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch amqpChannel, queues Queues) (*Publisher, error) {
	queues = queues.withDefaults()
	for _, name := range []string{queues.Alerts, queues.OTP} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	return &Publisher{ch: ch, queues: queues, now: time.Now}, nil
}

// alertMessage is the wire form consumed by the incident worker.
type alertMessage struct {
	authcore.Alert
	Severity string `json:"severity"`
}

// otpMessage is the wire form consumed by the mail worker.
type otpMessage struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	ChallengeID string    `json:"challenge_id"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Deliver publishes alert to the alert queue.
func (p *Publisher) Deliver(ctx context.Context, alert authcore.Alert) error {
	body, err := json.Marshal(alertMessage{Alert: alert, Severity: severity(alert.Action)})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return p.publish(ctx, p.queues.Alerts, alert.EventID, body, 0)
}

// SendOTP publishes the code for the mail worker. The message expires with
// the challenge so a backlog never delivers dead codes.
func (p *Publisher) SendOTP(ctx context.Context, msg authcore.OTPMessage) error {
	body, err := json.Marshal(otpMessage(msg))
	if err != nil {
		return fmt.Errorf("encode otp: %w", err)
	}
	return p.publish(ctx, p.queues.OTP, msg.ChallengeID, body, msg.ExpiresAt.Sub(p.now()))
}

func (p *Publisher) publish(ctx context.Context, queue, messageID string, body []byte, ttl time.Duration) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if ttl > 0 {
		pub.Expiration = fmt.Sprintf("%d", ttl.Milliseconds())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if err := p.ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Close closes the channel and, when Dial created it, the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}

func severity(action string) string {
	switch authcore.Action(action) {
	case authcore.ActionReuseDetected:
		return "critical"
	case authcore.ActionAccountLocked:
		return "high"
	default:
		return "medium"
	}
}
