package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/medify/pedidos/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если brokers не пустой. Ошибка подключения
// не фатальна: сервис продолжает работать без публикации событий.
func initKafkaProducer(brokers string, logger *log.Entry) *kafka.Producer {
	brokers = strings.TrimSpace(brokers)
	if brokers == "" {
		return nil
	}

	brokerList := strings.Split(brokers, ",")
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer
}

// closeKafka закрывает producer, если он был создан.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
