package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/augbari/mqttc"
	"github.com/augbari/mqttc/internal/logging"
	"github.com/augbari/mqttc/metrics"
)

// printer writes received messages; handlers call it from several workers.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func (p *printer) print(msg mqttc.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.verbose {
		fmt.Fprintf(p.w, "%s %s\n", topicColor.Sprint(msg.Topic), msg.Payload)
		return
	}
	flags := fmt.Sprintf("qos=%d", msg.QoS)
	if msg.Retained {
		flags += " retained"
	}
	if msg.Duplicate {
		flags += " dup"
	}
	fmt.Fprintf(p.w, "%s %s %s\n", topicColor.Sprint(msg.Topic), metaColor.Sprint("["+flags+"]"), msg.Payload)
}

func runSub(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var f commonFlags
	fs := newFlagSet("sub", stderr)
	f.register(fs)
	verbose := fs.Bool("v", false, "print QoS, retain and duplicate flags")
	if err := f.parse(fs, args); err != nil {
		return err
	}

	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging, version)

	opts, closeStore, err := clientOptions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("closing session store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	msgs := metrics.NewMessages("mqttc", reg)

	out := &printer{w: stdout, verbose: *verbose}
	handler := func(_ *mqttc.Client, msg mqttc.Message) { out.print(msg) }
	for _, topic := range f.topics {
		opts = append(opts, mqttc.WithSubscription(topic, f.QoS(), handler))
	}
	opts = append(opts,
		mqttc.WithHandlerInterceptor(msgs.HandlerInterceptor()),
		mqttc.WithOnConnectionLost(func(_ *mqttc.Client, err error) {
			logger.Warn("connection lost", "error", err)
		}),
	)

	client := mqttc.NewClient(cfg.Broker.URL, opts...)
	reg.MustRegister(metrics.NewCollector("mqttc", client))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return subscribeUntilDone(gctx, client, f.topics, stderr, logger)
	})

	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return serve(gctx, cfg.Metrics.Listen, newRouter(reg, client), logger)
		})
	}

	return g.Wait()
}

// subscribeUntilDone connects, which sends the subscriptions, and stays
// connected until ctx is done.
func subscribeUntilDone(ctx context.Context, client *mqttc.Client, topics []string, stderr io.Writer, logger *slog.Logger) error {
	if err := client.Connect(ctx); err != nil {
		disconnect(client, logger)
		return fmt.Errorf("connecting: %w", err)
	}
	fmt.Fprintf(stderr, "%s subscribed to %v\n", okColor.Sprint("✓"), topics)

	<-ctx.Done()
	disconnect(client, logger)
	return nil
}

func disconnect(client *mqttc.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}
}
