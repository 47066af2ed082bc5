package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phan-manh-dung/dechat/auth"
	"github.com/phan-manh-dung/dechat/chain"
	"github.com/phan-manh-dung/dechat/relay"
	"github.com/phan-manh-dung/dechat/store"
	"github.com/phan-manh-dung/dechat/wallet"
	"github.com/phan-manh-dung/dechat/ws"
)

const (
	envRPCURL   = "DECHAT_RPC_URL"
	envContract = "DECHAT_CONTRACT"
	envToken    = "DECHAT_TOKEN"
)

var (
	flagAddr    = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagPidFile = flag.String("pid-file", "dechat.pid", "pid file")
	flagEnvFile = flag.String("env-file", "", "optional .env file, loaded before reading "+envRPCURL+", "+envContract+", "+envToken+" and "+wallet.EnvPrivateKeys)

	flagRPCURL   = flag.String("rpc-url", "", "JSON-RPC endpoint, ws:// or http://; live messages need ws://. Defaults to $"+envRPCURL)
	flagChainID  = flag.Int64("chain-id", chain.DefaultChainID, "expected chain id")
	flagContract = flag.String("contract", "", "chat contract address. Defaults to $"+envContract)

	flagKeystore     = flag.String("keystore", "", "keystore dir; when empty, private keys are read from $"+wallet.EnvPrivateKeys)
	flagPasswordFile = flag.String("password-file", "", "keystore passphrase file")

	flagBoltPath = flag.String("bolt-path", "dechat.db", "recent contacts database file")

	flagKafkaBrokers = flag.String("kafka-brokers", "", "comma separated kafka brokers, empty disables the event relay")
	flagKafkaTopic   = flag.String("kafka-topic", relay.DefaultTopic, "event relay topic")

	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
	flagStaticDir      = flag.String("static-dir", "", "optional UI static dir served at /")
	flagToken          = flag.String("token", "", "access token of /ws, empty allows any local client. Defaults to $"+envToken)

	flagConfirmSends    = flag.Bool("confirm-sends", true, "ask the UI to approve connects and transactions")
	flagApprovalTimeout = flag.Duration("approval-timeout", ws.DefaultApprovalTimeout, "approval prompt timeout")
	flagMaxSessions     = flag.Int("max-sessions", ws.DefaultMaxSessions, "max concurrent UI connections, the oldest is kicked off")
	flagPollInterval    = flag.Duration("network-poll-interval", wallet.DefaultPollInterval, "chain id check interval of a wallet session")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if *flagEnvFile != "" {
		if err := godotenv.Load(*flagEnvFile); err != nil {
			return errorf("--env-file: %v", err)
		}
	}
	applyEnvDefaults()

	if v := validateFlags(); v > 0 {
		return v
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	keys, err := newKeySource()
	if err != nil {
		return errorf("keys: %v", err)
	}

	contacts, err := store.OpenContactStore(*flagBoltPath)
	if err != nil {
		return errorf("open contacts store `%s`: %v", *flagBoltPath, err)
	}
	defer contacts.Close()

	glog.Info("dechat server is starting")

	manager := wallet.NewManager(wallet.Config{
		RPCURL:       *flagRPCURL,
		ChainID:      *flagChainID,
		Contract:     common.HexToAddress(*flagContract),
		PollInterval: *flagPollInterval,
	}, keys, wallet.DialRPC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stopNotifyChans []chan struct{}
	start := func(f func(ctx context.Context, stopDoneNotifyC chan<- struct{})) {
		c := make(chan struct{}, 1)
		stopNotifyChans = append(stopNotifyChans, c)
		go f(ctx, c)
	}

	var sink ws.EventSink
	if *flagKafkaBrokers != "" {
		brokers := strings.Split(*flagKafkaBrokers, ",")
		r := relay.New(relay.NewKafkaWriter(brokers, *flagKafkaTopic), relay.PayloadMaxBytes)
		start(r.Run)
		sink = r
		glog.Infof("event relay enabled, topic: %s, brokers: %v", *flagKafkaTopic, brokers)
	}

	hub := ws.NewHub(newAuthClient(), manager, contacts, sink, &ws.Conf{
		ApprovalTimeout: *flagApprovalTimeout,
		RecentLimit:     ws.DefaultRecentLimit,
		MaxSessions:     *flagMaxSessions,
	})
	if *flagConfirmSends {
		manager.SetApprover(hub)
	}
	start(hub.Run)

	mux := http.NewServeMux()
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	mux.Handle("/ws", hub)
	if *flagStaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(*flagStaticDir)))
	}

	srv := &http.Server{
		Addr:              *flagAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("http server error: %v", err)
			// trigger the graceful stop below.
			_ = syscall.Kill(pid, syscall.SIGTERM)
		}
	}()

	glog.Infof("dechat server is listening on %s, chain id: %d, contract: %s", *flagAddr, *flagChainID, common.HexToAddress(*flagContract).Hex())
	glog.Infof("`CTRL+c` or `kill %d` to graceful stop", pid)

	var stopping bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	for sig := range sigCh {
		if stopping {
			glog.Infof("dechat server is already in stop")
			continue
		}
		stopping = true
		glog.Infof("received signal `%s` stopping", sig.String())
		go func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)

			manager.Disconnect()
			cancel()
			for _, c := range stopNotifyChans {
				<-c
			}
			signal.Stop(sigCh)
			close(sigCh)
		}()
	}

	glog.Info("dechat server exited")
	return 0
}

func applyEnvDefaults() {
	for _, d := range []struct {
		flag *string
		env  string
	}{
		{flagRPCURL, envRPCURL},
		{flagContract, envContract},
		{flagToken, envToken},
	} {
		if *d.flag == "" {
			*d.flag = os.Getenv(d.env)
		}
	}
}

func newKeySource() (wallet.KeySource, error) {
	if *flagKeystore == "" {
		// the env file, if any, is loaded already.
		return wallet.LoadKeyedSource("")
	}
	var pass string
	if *flagPasswordFile != "" {
		p, err := wallet.ReadPassphrase(*flagPasswordFile)
		if err != nil {
			return nil, err
		}
		pass = p
	}
	return wallet.NewKeystoreSource(*flagKeystore, pass), nil
}

func newAuthClient() auth.Client {
	return &auth.TokenClient{Token: *flagToken}
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr `%s`: %v", *flagAddr, err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}

	if *flagRPCURL == "" {
		return errorf("--rpc-url or $%s is required", envRPCURL)
	}
	if *flagChainID <= 0 {
		return errorf("--chain-id must be positive")
	}
	if *flagContract == "" {
		return errorf("--contract or $%s is required", envContract)
	}
	if !common.IsHexAddress(*flagContract) {
		return errorf("--contract `%s` is not an address", *flagContract)
	}

	if *flagKeystore != "" {
		if fi, err := os.Stat(*flagKeystore); err != nil || !fi.IsDir() {
			return errorf("--keystore `%s` is not a dir", *flagKeystore)
		}
	} else if *flagPasswordFile != "" {
		return errorf("--password-file requires --keystore")
	}

	if *flagBoltPath == "" {
		return errorf("--bolt-path is required")
	}
	if *flagKafkaBrokers != "" && *flagKafkaTopic == "" {
		return errorf("--kafka-topic is required with --kafka-brokers")
	}

	if *flagApprovalTimeout <= 0 {
		return errorf("--approval-timeout must be positive")
	}
	if *flagMaxSessions < 1 {
		return errorf("--max-sessions must be positive")
	}
	if *flagPollInterval < time.Second {
		return errorf("--network-poll-interval must be at least 1s")
	}

	if *flagStaticDir != "" {
		if _, err := os.Stat(*flagStaticDir); err != nil {
			return errorf("error stat static dir `%s`: %v", *flagStaticDir, err)
		}
	}

	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("`%s` is not loopback or private address", ips)
	}
	return nil
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		// Ok, see, if we have a stale lockfile here
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(strings.TrimSpace(string(content)))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			} else {
				glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
