package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinymq/tinymq-go/internal/client"
	"github.com/tinymq/tinymq-go/internal/das"
	"github.com/tinymq/tinymq-go/internal/events"
	"github.com/tinymq/tinymq-go/internal/publisher"
	"github.com/tinymq/tinymq-go/internal/store"
)

// runConnect is the primary operating mode: connect to the broker,
// start serial acquisition, install the publish callbacks, re-subscribe
// stored subscriptions, and stream operational events until a shutdown
// signal arrives.
func runConnect(ctx context.Context, e *environment) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	logger := e.logger(cfg)

	st, err := e.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.GetOrCreateClientID(); err != nil {
		return err
	}

	bus := events.New()
	cli := client.New(st, client.WithLogger(logger), client.WithBus(bus))

	dasSvc := das.New(das.Config{
		Port:    cfg.Serial.Port,
		Baud:    cfg.Serial.Baud,
		Verbose: cfg.Serial.Verbose,
		Store:   st,
		Logger:  logger,
		Bus:     bus,
	})

	orch := &publisher.Orchestrator{
		Store:  st,
		DAS:    dasSvc,
		Pub:    cli,
		Bus:    bus,
		Logger: logger,
	}

	host, port, err := brokerEndpoint(st, cfg)
	if err != nil {
		return err
	}
	if err := cli.Connect(host, port); err != nil {
		return fmt.Errorf("connect to %s:%d: %w", host, port, err)
	}
	defer cli.Disconnect()

	if err := cli.SubscribeSensorControl(dasSvc); err != nil {
		return err
	}
	if err := resubscribe(cli, st, logger); err != nil {
		return err
	}
	if err := orch.Rebuild(); err != nil {
		return err
	}

	if cfg.Serial.Port != "" {
		dasSvc.Start(true)
		defer dasSvc.Stop()
	} else {
		logger.Info("no serial port configured, acquisition disabled")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	fmt.Fprintf(e.stdout, "connected to %s:%d as %s\n", host, port, cli.ClientID())
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(e.stdout, "shutting down")
			return nil
		case event := <-ch:
			printEvent(e, event)
			if event.Source == events.SourceBroker && event.Kind == events.KindDisconnected {
				return fmt.Errorf("broker connection lost")
			}
		}
	}
}

// resubscribe re-establishes every active stored subscription on the
// new connection, with a handler that appends received payloads to the
// subscription history.
func resubscribe(cli *client.Client, st *store.Store, logger *slog.Logger) error {
	subs, err := st.GetSubscriptions()
	if err != nil {
		return err
	}
	for _, sub := range subs {
		topic, source := sub.Topic, sub.SourceClient
		handler := func(_ string, payload []byte) {
			if err := st.AddSubscriptionData(topic, source, time.Now().Unix(), string(payload)); err != nil {
				logger.Warn("store subscription data", "topic", topic, "error", err)
			}
		}
		if err := cli.Subscribe(source+"/"+topic, handler); err != nil {
			return fmt.Errorf("resubscribe %s/%s: %w", source, topic, err)
		}
	}
	return nil
}

func printEvent(e *environment, event events.Event) {
	fmt.Fprintf(e.stdout, "%s  %-7s %-13s", event.Timestamp.Format("15:04:05"), event.Source, event.Kind)
	for k, v := range event.Data {
		fmt.Fprintf(e.stdout, " %s=%v", k, v)
	}
	fmt.Fprintln(e.stdout)
}
