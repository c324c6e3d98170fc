package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/augbari/mqttc"
	"github.com/augbari/mqttc/internal/logging"
)

func runPub(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var f commonFlags
	fs := newFlagSet("pub", stderr)
	f.register(fs)
	message := fs.String("m", "", "message payload")
	file := fs.String("f", "", "read the payload from a file")
	retain := fs.Bool("r", false, "set the retain flag")
	if err := f.parse(fs, args); err != nil {
		return err
	}
	if *message != "" && *file != "" {
		return fmt.Errorf("%w: -m and -f are mutually exclusive", errUsage)
	}

	payload := []byte(*message)
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
		payload = data
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

	client := mqttc.NewClient(cfg.Broker.URL, opts...)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer disconnect(client, logger)

	tok := client.PublishMulti(f.topics, payload,
		mqttc.WithQoS(f.QoS()),
		mqttc.WithRetain(*retain))
	if err := tok.Wait(ctx); err != nil {
		return fmt.Errorf("publishing: %w", err)
	}

	fmt.Fprintf(stdout, "%s published %d bytes to %v\n", okColor.Sprint("✓"), len(payload), []string(f.topics))
	return nil
}
