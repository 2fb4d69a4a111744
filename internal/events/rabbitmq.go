package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/stemsplit/api/internal/model"
)

// Routing keys for lifecycle events
const (
	RoutingKeyCompleted = "job.completed"
	RoutingKeyFailed    = "job.failed"
)

// Event is the JSON body published for terminal transitions
type Event struct {
	JobID           string           `json:"job_id"`
	Status          model.JobStatus  `json:"status"`
	SourceReference string           `json:"source_reference"`
	Artifacts       []model.Artifact `json:"result_artifacts,omitempty"`
	Error           string           `json:"error,omitempty"`
	ErrorKind       string           `json:"error_kind,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

type Publisher interface {
	Publish(routingKey string, msg amqp091.Publishing) error
}

var _ Publisher = &ExchangePublisher{}

// ExchangePublisher publishes to a durable topic exchange, reconnecting once
// when the channel has been closed underneath it.
type ExchangePublisher struct {
	rabbitMQURL string
	exchange    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewExchangePublisher(rabbitMQURL, exchange string) (*ExchangePublisher, error) {
	publisher := &ExchangePublisher{
		rabbitMQURL: rabbitMQURL,
		exchange:    exchange,
	}

	if err := publisher.connectChannel(); err != nil {
		return nil, errors.Wrap(err, "Failed to connect to RabbitMQ")
	}

	return publisher, nil
}

func (p *ExchangePublisher) connectChannel() error {
	p.channel = nil

	conn, err := amqp091.Dial(p.rabbitMQURL)
	if err != nil {
		return errors.Wrap(err, "Failed to dial rabbitMQURL")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "Failed to create rabbit channel")
	}

	err = channel.ExchangeDeclare(
		p.exchange,
		amqp091.ExchangeTopic,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "Failed to declare the exchange")
	}

	p.conn = conn
	p.channel = channel
	return nil
}

func (p *ExchangePublisher) publishWithoutRetry(routingKey string, msg amqp091.Publishing) error {
	if p.channel == nil {
		return amqp091.ErrClosed
	}

	msg.ContentType = "application/json"
	msg.DeliveryMode = amqp091.Persistent

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *ExchangePublisher) Publish(routingKey string, msg amqp091.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.publishWithoutRetry(routingKey, msg)
	if err == nil {
		return nil
	}

	publishErr := errors.Wrap(err, "Failed to publish message to rabbitMQ channel")
	if !errors.Is(err, amqp091.ErrClosed) {
		return publishErr
	}

	if err := p.connectChannel(); err != nil {
		log.WithError(err).Error("Unable to reconnect to rabbitMQ channel")
		return publishErr
	}

	return p.publishWithoutRetry(routingKey, msg)
}

// Close tears down the connection
func (p *ExchangePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

var _ Notifier = &RabbitNotifier{}

// RabbitNotifier turns terminal job transitions into published events.
// Progress is not published.
type RabbitNotifier struct {
	publisher Publisher
	now       func() time.Time
}

func NewRabbitNotifier(publisher Publisher) *RabbitNotifier {
	return &RabbitNotifier{publisher: publisher, now: time.Now}
}

func (r *RabbitNotifier) Progress(*model.Job, string) {}

func (r *RabbitNotifier) Completed(job *model.Job) {
	r.publish(RoutingKeyCompleted, Event{
		JobID:           job.ID,
		Status:          job.Status,
		SourceReference: job.SourceReference,
		Artifacts:       job.ResultArtifacts,
		OccurredAt:      r.now(),
	})
}

func (r *RabbitNotifier) Failed(job *model.Job, kind string) {
	r.publish(RoutingKeyFailed, Event{
		JobID:           job.ID,
		Status:          job.Status,
		SourceReference: job.SourceReference,
		Error:           job.Error,
		ErrorKind:       kind,
		OccurredAt:      r.now(),
	})
}

func (r *RabbitNotifier) publish(routingKey string, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Error("Failed to marshal job event")
		return
	}

	err = r.publisher.Publish(routingKey, amqp091.Publishing{
		MessageId: event.JobID,
		Timestamp: event.OccurredAt,
		Body:      body,
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"jobID":      event.JobID,
			"routingKey": routingKey,
		}).Error("Failed to publish job event")
	}
}
