// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/logging"
)

// natsReadyTimeout bounds embedded server start and stream setup.
const natsReadyTimeout = 30 * time.Second

// natsExport owns the JetStream side of the feed: the optional
// embedded server, the connection, the stream and the watermill
// publisher the router forwards into.
type natsExport struct {
	cfg      config.NATSConfig
	embedded *server.Server
	conn     *natsgo.Conn
	pub      message.Publisher
}

// newNATSExport starts the embedded server when configured, connects,
// ensures the stream exists and builds the publisher.
func newNATSExport(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*natsExport, error) {
	ex := &natsExport{cfg: cfg}
	url := cfg.URL

	if cfg.EmbeddedServer {
		opts := &server.Options{
			ServerName: "tarantula-feed",
			Host:       "127.0.0.1",
			Port:       4222,
			JetStream:  true,
			StoreDir:   cfg.StoreDir,
			MaxPayload: 8 * 1024 * 1024,
		}
		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("create embedded nats server: %w", err)
		}
		ns.ConfigureLogger()
		go ns.Start()
		if !ns.ReadyForConnections(natsReadyTimeout) {
			ns.Shutdown()
			return nil, errors.New("embedded nats server not ready in time")
		}
		ex.embedded = ns
		url = ns.ClientURL()
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	conn, err := natsgo.Connect(url,
		natsgo.Name("tarantula"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		ex.close()
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	ex.conn = conn

	if err := ex.ensureStream(); err != nil {
		ex.close()
		return nil, err
	}

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL: url,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2 * time.Second),
		},
		Marshaler: &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		ex.close()
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	ex.pub = pub

	logging.Info().
		Str("stream", ex.streamName()).
		Str("prefix", cfg.SubjectPrefix).
		Msg("NATS export ready")
	return ex, nil
}

// subject maps a feed topic onto its JetStream subject.
func (ex *natsExport) subject(topic string) string {
	return ex.cfg.SubjectPrefix + "." + topic
}

func (ex *natsExport) streamName() string {
	name := strings.ReplaceAll(ex.cfg.SubjectPrefix, ".", "_")
	return strings.ToUpper(name)
}

// ensureStream creates or updates the export stream. Idempotent, so a
// restart against an existing stream refreshes its limits.
func (ex *natsExport) ensureStream() error {
	js, err := jetstream.New(ex.conn)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}

	retention := time.Duration(ex.cfg.StreamRetentionDays) * 24 * time.Hour
	streamCfg := jetstream.StreamConfig{
		Name:        ex.streamName(),
		Subjects:    []string{ex.cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      retention,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), natsReadyTimeout)
	defer cancel()

	_, err = js.Stream(ctx, streamCfg.Name)
	switch {
	case err == nil:
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", streamCfg.Name, err)
		}
	case errors.Is(err, jetstream.ErrStreamNotFound):
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("create stream %s: %w", streamCfg.Name, err)
		}
	default:
		return fmt.Errorf("check stream %s: %w", streamCfg.Name, err)
	}
	return nil
}

// close tears the export down: publisher, connection, then the
// embedded server.
func (ex *natsExport) close() error {
	var errs []error
	if ex.pub != nil {
		if err := ex.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close nats publisher: %w", err))
		}
		ex.pub = nil
	}
	if ex.conn != nil {
		ex.conn.Close()
		ex.conn = nil
	}
	if ex.embedded != nil {
		ex.embedded.Shutdown()
		ex.embedded.WaitForShutdown()
		ex.embedded = nil
		logging.Info().Msg("Embedded NATS server stopped")
	}
	return errors.Join(errs...)
}
