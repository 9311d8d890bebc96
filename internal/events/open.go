package events

import (
	"context"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Driver           string
	RabbitMQURL      string
	RabbitMQExchange string
	KafkaBrokers     string
	KafkaTopic       string
}

// Open returns the broker publisher selected by opts.Driver. A broker that is
// unreachable at startup degrades to Noop so the API still serves.
func Open(ctx context.Context, opts Options, log logrus.FieldLogger) Publisher {
	switch opts.Driver {
	case "rabbitmq":
		p, err := NewRabbitPublisher(opts.RabbitMQURL, opts.RabbitMQExchange, log)
		if err != nil {
			log.WithError(err).Warn("rabbitmq unavailable, events will be dropped")
			return NewNoop(log)
		}
		log.WithField("exchange", opts.RabbitMQExchange).Info("publishing events to rabbitmq")
		return p
	case "kafka":
		p, err := NewKafkaPublisher(ctx, opts.KafkaBrokers, opts.KafkaTopic)
		if err != nil {
			log.WithError(err).Warn("kafka unavailable, events will be dropped")
			return NewNoop(log)
		}
		log.WithField("topic", opts.KafkaTopic).Info("publishing events to kafka")
		return p
	default:
		return NewNoop(log)
	}
}
