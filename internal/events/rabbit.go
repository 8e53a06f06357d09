package events

import (
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitBridge publishes bus events to per-topic RabbitMQ queues. It is
// entirely optional: with an empty URL the bridge stays disabled and every
// publish is a no-op.
type RabbitBridge struct {
	mu          sync.Mutex
	conn        *amqp091.Connection
	channel     *amqp091.Channel
	enabled     bool
	queuePrefix string
	declared    map[string]bool
}

// NewRabbitBridge dials RabbitMQ when url is non-empty. Connection failures
// disable the bridge rather than failing startup.
func NewRabbitBridge(url, queuePrefix string) *RabbitBridge {
	b := &RabbitBridge{
		queuePrefix: queuePrefix,
		declared:    make(map[string]bool),
	}
	if queuePrefix == "" {
		b.queuePrefix = "livedesk"
	}

	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set. RabbitMQ publishing disabled.")
		return b
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ")
		return b
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel")
		_ = conn.Close()
		return b
	}

	b.conn = conn
	b.channel = channel
	b.enabled = true
	log.Info().Str("prefix", b.queuePrefix).Msg("RabbitMQ connection established.")
	return b
}

// Enabled reports whether the bridge has a live connection.
func (b *RabbitBridge) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *RabbitBridge) queueName(topic Topic) string {
	return b.queuePrefix + "_" + strings.ReplaceAll(string(topic), ".", "_")
}

// Publish sends one JSON-encoded event to the queue for its topic.
// Queue declaration is idempotent and cached after the first success.
func (b *RabbitBridge) Publish(topic Topic, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled {
		return
	}

	queueName := b.queueName(topic)
	if !b.declared[queueName] {
		_, err := b.channel.QueueDeclare(
			queueName,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("Could not declare RabbitMQ queue")
			return
		}
		b.declared[queueName] = true
	}

	err := b.channel.Publish(
		"",        // exchange (default)
		queueName, // routing key = queue
		false,     // mandatory
		false,     // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("Could not publish to RabbitMQ")
		return
	}
	log.Debug().Str("queue", queueName).Msg("Published event to RabbitMQ")
}

// Close tears down the channel and connection.
func (b *RabbitBridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return
	}
	b.enabled = false
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}
