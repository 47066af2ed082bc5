package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/glog"

	"github.com/phan-manh-dung/dechat/chatstore"
	"github.com/phan-manh-dung/dechat/relay"
)

// relaytail prints the MessageSent events mirrored by a dechat server with --kafka-brokers.

// kafka-topics.sh --bootstrap-server localhost:9092 --topic dechat-messages --create

var (
	kafkaBrokers = flag.String("kafka-brokers", "127.0.0.1:9092", "kafka brokers, ',' delimitted.")
	kafkaTopic   = flag.String("kafka-topic", relay.DefaultTopic, "relay topic")
	groupId      = flag.String("group-id", relay.DefaultGroupId, "consumer group id")
	account      = flag.String("account", "", "only print messages from or to this address")
	utc          = flag.Bool("utc", false, "print times in UTC instead of local time")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if len(*kafkaBrokers) == 0 {
		fmt.Fprintln(os.Stderr, "--kafka-brokers is required.")
		os.Exit(2)
	}

	var (
		filter    common.Address
		hasFilter bool
	)
	if *account != "" {
		addr, err := chatstore.ParseAddress(*account)
		if err != nil {
			fmt.Fprintf(os.Stderr, "--account: %s\n", chatstore.UserMessage(err))
			os.Exit(2)
		}
		filter, hasFilter = addr, true
	}

	loc := time.Local
	if *utc {
		loc = time.UTC
	}

	r := relay.NewKafkaReader(strings.Split(*kafkaBrokers, ","), *kafkaTopic, *groupId)
	defer r.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	relay.Tail(ctx, r, relay.PayloadMaxBytes, func(p *relay.Payload) {
		from, to := common.HexToAddress(p.From), common.HexToAddress(p.To)
		if hasFilter && from != filter && to != filter {
			return
		}
		fmt.Printf("[%s] %s -> %s: %s  (block %d, tx %s)\n",
			chatstore.FormatTimestamp(p.Timestamp, loc),
			chatstore.ShortAddress(from),
			chatstore.ShortAddress(to),
			p.Content,
			p.Block,
			p.TxHash,
		)
	})
}
