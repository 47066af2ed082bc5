package relay

import (
	"context"

	"github.com/segmentio/kafka-go"
)

//go:generate mockgen -destination=mock/kafka.go -package=relay_mock github.com/phan-manh-dung/dechat/relay IKafkaWriter,IKafkaReader

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

type IKafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}
