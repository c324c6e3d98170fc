package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/fatih/color"

	"github.com/augbari/mqttc"
	"github.com/augbari/mqttc/internal/config"
	"github.com/augbari/mqttc/store/mongostore"
	"github.com/augbari/mqttc/store/sqlitestore"
	"github.com/augbari/mqttc/wsdial"
)

var (
	topicColor = color.New(color.FgCyan, color.Bold)
	metaColor  = color.New(color.FgHiBlack)
	errorColor = color.New(color.FgRed, color.Bold)
	okColor    = color.New(color.FgGreen)
)

// clientOptions translates cfg into client options. The returned close
// function releases the session store.
func clientOptions(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]mqttc.Option, func() error, error) {
	b := cfg.Broker
	opts := []mqttc.Option{
		mqttc.WithLogger(logger),
		mqttc.WithKeepAlive(b.KeepAlive.Std()),
		mqttc.WithConnectTimeout(b.ConnectTimeout.Std()),
		mqttc.WithCleanSession(cfg.Session.Clean),
		mqttc.WithAutoReconnect(b.AutoReconnect),
		mqttc.WithReconnectBackoff(b.MinReconnectDelay.Std(), b.MaxReconnectDelay.Std()),
	}
	if b.ClientID != "" {
		opts = append(opts, mqttc.WithClientID(b.ClientID))
	}
	if b.Username != "" || b.Password != "" {
		opts = append(opts, mqttc.WithCredentials(b.Username, b.Password))
	}

	u, err := url.Parse(b.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	tlsConfig := &tls.Config{InsecureSkipVerify: b.InsecureSkipVerify} //nolint:gosec // opt-in for test brokers
	switch u.Scheme {
	case "ws", "wss":
		opts = append(opts, mqttc.WithDialer(&wsdial.Dialer{TLSConfig: tlsConfig}))
	case "tls", "ssl", "mqtts":
		opts = append(opts, mqttc.WithTLS(tlsConfig))
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if store != nil {
		opts = append(opts, mqttc.WithSessionStore(store))
	}
	return opts, closeStore, nil
}

func openStore(ctx context.Context, cfg *config.Config) (mqttc.SessionStore, func() error, error) {
	nop := func() error { return nil }
	clientID := cfg.Broker.ClientID

	switch cfg.Session.Store {
	case config.StoreFile:
		s, err := mqttc.NewFileStore(cfg.Session.Path, clientID)
		if err != nil {
			return nil, nil, fmt.Errorf("opening file store: %w", err)
		}
		return s, nop, nil

	case config.StoreSQLite:
		s, err := sqlitestore.Open(cfg.Session.Path, clientID)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, s.Close, nil

	case config.StoreMongo:
		s, client, err := mongostore.Connect(ctx, cfg.Session.MongoURI, cfg.Session.MongoDatabase, clientID)
		if err != nil {
			return nil, nil, fmt.Errorf("opening mongo store: %w", err)
		}
		return s, func() error { return client.Disconnect(context.Background()) }, nil

	default:
		return nil, nop, nil
	}
}
