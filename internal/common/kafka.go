package common

import "github.com/segmentio/kafka-go"

// NewKafkaWriter returns a hash-balanced writer for topic, or nil when no
// brokers are configured.
func NewKafkaWriter(cfg *Config, topic string) *kafka.Writer {
	if !cfg.KafkaEnabled() {
		return nil
	}
	return &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}
