package events

import (
	"context"
	"encoding/json"

	xerrors "AgentFlow-Chain/internal/errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig describes the queue workflow observations are published to.
type AMQPConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// AMQPPublisher publishes observations as JSON messages on a RabbitMQ
// queue.
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPPublisher connects and declares the target queue.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "amqp url is empty")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "agentflow.workflow-observations"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnection, err, "dial amqp broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeConnection, err, "open amqp channel")
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeConnection, err, "declare amqp queue")
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, obs Observation) error {
	if p == nil || p.ch == nil {
		return ErrPublisherClosed
	}
	body, err := json.Marshal(obs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "encode observation")
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close implements Publisher.
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
