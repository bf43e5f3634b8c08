// Package kafka доставляет события заказов внешним потребителям: уведомления
// покупателю, панель аптеки, аналитика. Продьюсер синхронный и идемпотентный,
// ключом сообщения служит идентификатор заказа, поэтому события одного заказа
// попадают в одну партицию и сохраняют порядок.
package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Topics, в которые пишет сервис.
const (
	TopicOrderEvents     = "pedidos.order.events"
	TopicDeadLetterQueue = "pedidos.dlq"
)

// producerConfig возвращает конфигурацию sarama для синхронного идемпотентного
// продьюсера: подтверждение всеми ISR, идемпотентность требует не более одного
// запроса в полёте.
func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// Producer — тонкая обёртка над sarama.SyncProducer. Сборкой сообщений
// занимаются паблишеры событий, Producer только отправляет и логирует.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer создаёт продьюсер, подключённый к brokers.
func NewProducer(brokers []string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// Send отправляет одно сообщение и дожидается подтверждения брокера.
func (p *Producer) Send(msg *sarama.ProducerMessage) error {
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", msg.Topic).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", msg.Topic, err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     msg.Topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает продьюсер и дожидается незавершённых отправок.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
