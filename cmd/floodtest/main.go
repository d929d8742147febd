// floodtest floods logical messages through a rate-limited loopback
// carrier and reports delivery throughput. Useful for eyeballing lane
// fairness and fragmentation overhead under a strict carrier budget.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fairwire/fairwire/comm"
	"github.com/fairwire/fairwire/internal/validation"
	"github.com/fairwire/fairwire/observability"
	"github.com/fairwire/fairwire/scheduler"
	"github.com/fairwire/fairwire/transport"
	"github.com/fairwire/fairwire/transport/loopback"
)

var (
	msgs         int
	msgSize      int
	prioName     string
	channel      string
	carrierRate  float64
	carrierBurst int
	maxBps       float64
	timeout      time.Duration
	metricsAddr  string
)

func main() {
	flag.IntVar(&msgs, "msgs", 100, "Number of messages to send")
	flag.IntVar(&msgSize, "size", 600, "Payload size per message in bytes")
	flag.StringVar(&prioName, "prio", "NORMAL", "Priority lane (BULK, NORMAL, ALERT)")
	flag.StringVar(&channel, "channel", "flood", "Channel id")
	flag.Float64Var(&carrierRate, "carrier-rate", 2000, "Carrier-side budget in bytes/sec")
	flag.IntVar(&carrierBurst, "carrier-burst", 4000, "Carrier-side burst allowance in bytes")
	flag.Float64Var(&maxBps, "max-bps", 800, "Scheduler sustained rate in bytes/sec")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this long")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (optional)")
	flag.Parse()

	if shutdown, err := observability.InitTracing(context.Background(), "fairwire-floodtest"); err == nil {
		defer shutdown(context.Background())
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	prio, err := scheduler.ParsePriority(prioName)
	if err != nil {
		return err
	}
	if err := validation.ValidateRangeInt(msgs, 1, 1<<20); err != nil {
		return fmt.Errorf("-msgs: %w", err)
	}
	if err := validation.ValidateRangeInt(msgSize, 0, 1<<20); err != nil {
		return fmt.Errorf("-size: %w", err)
	}

	logger := observability.NewLogger("floodtest", os.Stderr)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error(err, "metrics server failed")
			}
		}()
	}

	sender, receiver := loopback.NewPair("sender", "receiver", carrierRate, carrierBurst)
	defer sender.Close()
	defer receiver.Close()

	schedCfg := scheduler.DefaultConfig()
	schedCfg.MaxBytesPerSec = maxBps
	schedCfg.BurstCeiling = maxBps * 5
	sched, err := scheduler.New(schedCfg, sender, logger, metrics)
	if err != nil {
		return err
	}
	defer sched.Stop()

	outMsgr, err := comm.NewMessenger(comm.DefaultConfig(), sched, logger, metrics)
	if err != nil {
		return err
	}
	defer outMsgr.Close()

	// Receiving side: its own scheduler and messenger over the peer
	// endpoint, so a handler could reply through the same machinery.
	recvSched, err := scheduler.New(schedCfg, receiver, logger, metrics)
	if err != nil {
		return err
	}
	defer recvSched.Stop()
	inMsgr, err := comm.NewMessenger(comm.DefaultConfig(), recvSched, logger, metrics)
	if err != nil {
		return err
	}
	defer inMsgr.Close()
	receiver.OnFrame(func(dest transport.Destination, payload []byte, from string) {
		inMsgr.HandleFrame(dest.Channel, payload, dest, from)
	})

	var delivered, deliveredBytes atomic.Int64
	done := make(chan struct{})
	if _, err := inMsgr.Subscribe(channel, func(_ string, payload []byte, _ transport.Destination, _ string) {
		deliveredBytes.Add(int64(len(payload)))
		if delivered.Add(1) == int64(msgs) {
			close(done)
		}
	}); err != nil {
		return err
	}

	payload := make([]byte, msgSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	dest := transport.Destination{Scope: "loopback", Target: "receiver"}

	start := time.Now()
	for i := 0; i < msgs; i++ {
		if err := outMsgr.Send(prio, channel, payload, dest, nil); err != nil {
			return fmt.Errorf("send %d: %w", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(timeout):
		fmt.Fprintf(os.Stderr, "timed out: %d/%d messages delivered\n", delivered.Load(), msgs)
	}
	elapsed := time.Since(start)

	fmt.Printf("delivered %d messages (%d payload bytes) in %.1fs\n",
		delivered.Load(), deliveredBytes.Load(), elapsed.Seconds())
	fmt.Printf("lane %s accounted bytes: %d, goodput: %.0f B/s\n",
		prio, sched.LaneBytesSent(prio), float64(deliveredBytes.Load())/elapsed.Seconds())
	return nil
}
