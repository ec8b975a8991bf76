package mq

import (
	"fmt"

	"magnetar/internal/config"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Publisher delivers one keyed message to a topic.
type Publisher interface {
	Publish(topic, key string, value []byte) error
	Close() error
}

// KafkaPublisher is a Publisher backed by a sarama SyncProducer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	log      logrus.FieldLogger
}

// NewSaramaConfig waits for every in-sync replica and retries three times.
func NewSaramaConfig() *sarama.Config {
	c := sarama.NewConfig()
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Retry.Max = 3
	c.Producer.Return.Successes = true
	return c
}

// InitKafka connects a sync producer to cfg.Brokers.
func InitKafka(cfg *config.KafkaConfig, log logrus.FieldLogger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	log.WithField("brokers", cfg.Brokers).Info("kafka producer ready")
	return NewKafkaPublisher(producer, log), nil
}

func NewKafkaPublisher(producer sarama.SyncProducer, log logrus.FieldLogger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, log: log}
}

func (p *KafkaPublisher) Publish(topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s/%s: %w", topic, key, err)
	}
	p.log.WithFields(logrus.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
