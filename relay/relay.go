package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/phan-manh-dung/dechat/chatstore"
	"github.com/phan-manh-dung/dechat/metrics"
)

const (
	DefaultTopic   = "dechat-messages"
	DefaultGroupId = "dechat-relaytail"

	// PayloadMaxBytes bounds one encoded event, content is at most chatstore.MaxContentRunes runes.
	PayloadMaxBytes = 8192

	kafkaWriteTimeout = 10 * time.Second
	saveTimeout       = 3 * time.Second
	queueSize         = 256
	maxAttempts       = 5
)

var (
	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

var errOversize = errors.New("payload exceeds limit")

// Payload is the kafka message value of one MessageSent event.
type Payload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	TxHash    string `json:"tx_hash"`
	Block     uint64 `json:"block"`
}

func NewPayload(e *chatstore.Event) *Payload {
	return &Payload{
		From:      e.From.Hex(),
		To:        e.To.Hex(),
		Content:   e.Content,
		Timestamp: e.Timestamp,
		TxHash:    e.TxHash.Hex(),
		Block:     e.Block,
	}
}

// NewKafkaWriter writes to topic, keyed by transaction hash.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   kafkaWriteTimeout,
			DualStack: true,
		},
	})
}

// Relay mirrors observed chain events to kafka. Handle never blocks the caller;
// events are dropped when the queue is full.
type Relay struct {
	writer IKafkaWriter
	limit  int
	ch     chan *chatstore.Event
	wg     sync.WaitGroup
}

func New(writer IKafkaWriter, limit int) *Relay {
	if limit <= 0 {
		limit = PayloadMaxBytes
	}
	return &Relay{
		writer: writer,
		limit:  limit,
		ch:     make(chan *chatstore.Event, queueSize),
	}
}

// Handle enqueues e. It fits chain.Contract.Subscribe as the event handler.
func (r *Relay) Handle(e *chatstore.Event) {
	select {
	case r.ch <- e:
	default:
		metrics.RelayMessages.WithLabelValues("dropped").Inc()
		glog.Errorf("relay: queue full, drop event: %s", e)
	}
}

// Run publishes queued events until ctx is done, then closes the writer.
func (r *Relay) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	glog.Info("relay: ready")
	r.wg.Add(1)
	go r.publishLoop(ctx)

	<-ctx.Done()

	glog.Info("relay: stopping")
	r.wg.Wait()
	_ = r.writer.Close()
	glog.Info("relay: stopped")
	stopDoneNotifyC <- struct{}{}
}

func (r *Relay) publishLoop(ctx context.Context) {
	defer func() {
		glog.Info("relay: publish loop exited")
		r.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.ch:
			r.publish(ctx, e)
		}
	}
}

func (r *Relay) publish(ctx context.Context, e *chatstore.Event) {
	var sleep time.Duration
	for attempt := 1; ; attempt++ {
		err := saveEvent(r.writer, e, r.limit)
		if err == nil {
			metrics.RelayMessages.WithLabelValues("ok").Inc()
			glog.V(5).Infof("relay: published %s", e)
			return
		}
		if errors.Is(err, errOversize) {
			metrics.RelayMessages.WithLabelValues("oversize").Inc()
			glog.Errorf("relay: skip event, tx: %s, err: %v", e.TxHash.Hex(), err)
			return
		}
		glog.Errorf("relay: publish error (%d/%d): %v", attempt, maxAttempts, err)
		if attempt >= maxAttempts {
			metrics.RelayMessages.WithLabelValues("error").Inc()
			return
		}
		backoff(&sleep)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return
		}
	}
}

func saveEvent(w IKafkaWriter, e *chatstore.Event, limit int) error {
	value, err := json.Marshal(NewPayload(e))
	if err != nil {
		return fmt.Errorf("marshal event: %v", err)
	}
	if len(value) > limit {
		return fmt.Errorf("%w: %d > %d bytes", errOversize, len(value), limit)
	}

	km := kafka.Message{
		Key:   e.TxHash.Bytes(),
		Value: value,
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := w.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Decode parses a relayed message value.
func Decode(value []byte, limit int) (*Payload, error) {
	if len(value) > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", errOversize, len(value), limit)
	}
	var p Payload
	if err := json.Unmarshal(value, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
	} else {
		*d = time.Duration(float64(*d) * BackoffMultiplier)
		if *d < BackoffMaxInterval {
			*d = d.Truncate(time.Millisecond)
		} else {
			*d = BackoffMinInterval
		}
	}
}
