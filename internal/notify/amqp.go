package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultMailQueue is the durable queue the mail worker consumes.
const DefaultMailQueue = "gamecenter.mail"

// AMQPMailer publishes messages to a RabbitMQ queue. Each Send dials a
// fresh connection so a broker restart never wedges the process; volume is
// a handful of emails per booking, not a firehose.
type AMQPMailer struct {
	url    string
	queue  string
	logger *zap.Logger
}

// NewAMQPMailer wires an AMQPMailer for the given broker URL.
func NewAMQPMailer(url string, queue string, logger *zap.Logger) *AMQPMailer {
	if queue == "" {
		queue = DefaultMailQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPMailer{url: url, queue: queue, logger: logger}
}

// Send publishes one persistent message to the mail queue.
func (mailer *AMQPMailer) Send(ctx context.Context, message Message) error {
	connection, err := amqp.Dial(mailer.url)
	if err != nil {
		mailer.logger.Warn("amqp dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = connection.Close() }()

	channel, err := connection.Channel()
	if err != nil {
		mailer.logger.Warn("amqp channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = channel.Close() }()

	// Durable so queued mail survives broker restarts.
	if _, err := channel.QueueDeclare(mailer.queue, true, false, false, false, nil); err != nil {
		mailer.logger.Warn("amqp queue declare failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := channel.PublishWithContext(ctx, "", mailer.queue, false, false, publishing); err != nil {
		mailer.logger.Warn("amqp publish failed", zap.Error(err))
		return err
	}
	return nil
}

// LogMailer writes messages to the log instead of a broker. It backs local
// development and tests where no RabbitMQ is running.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer wires a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message instead of delivering it.
func (mailer *LogMailer) Send(_ context.Context, message Message) error {
	mailer.logger.Info("mail",
		zap.String("kind", message.Kind),
		zap.String("to", message.To),
		zap.String("reservation_id", message.ReservationID),
		zap.String("pc_name", message.PCName))
	return nil
}
