package relay

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"
)

const kafkaReadTimeout = 10 * time.Second

func NewKafkaReader(brokers []string, topic, groupId string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupId,
		Dialer: &kafka.Dialer{
			Timeout:   kafkaReadTimeout,
			DualStack: true,
		},
	})
}

// Tail consumes relayed events and calls fn for each decodable one, committing as it goes.
// It returns when ctx is done. Undecodable messages are logged, committed and skipped.
func Tail(ctx context.Context, r IKafkaReader, limit int, fn func(*Payload)) {
	glog.Info("tail: consume loop enter")
	defer glog.Info("tail: consume loop exited")

	var sleep time.Duration
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				glog.V(5).Info("tail: fetch was cancelled")
				return
			}
			glog.Errorf("tail: fetch from kafka err: %v", err)
			if !wait(ctx, &sleep) {
				return
			}
			continue
		}
		sleep = 0

		if p, err := Decode(msg.Value, limit); err != nil {
			glog.Errorf("tail: skip message at offset %d: %v", msg.Offset, err)
		} else {
			fn(p)
		}

		for {
			err := r.CommitMessages(ctx, msg)
			if err == nil {
				sleep = 0
				break
			}
			glog.Errorf("tail: commit to kafka err: %v", err)
			if !wait(ctx, &sleep) {
				return
			}
		}
	}
}

func wait(ctx context.Context, sleep *time.Duration) bool {
	backoff(sleep)
	select {
	case <-time.After(*sleep):
		return true
	case <-ctx.Done():
		return false
	}
}
