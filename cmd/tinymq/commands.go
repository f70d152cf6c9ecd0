package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinymq/tinymq-go/internal/client"
	"github.com/tinymq/tinymq-go/internal/config"
	"github.com/tinymq/tinymq-go/internal/store"
)

// adminAckTimeout bounds the wait for the asynchronous ADMIN_REQ_ACK
// after an admin request subcommand.
const adminAckTimeout = 10 * time.Second

// withConnection runs fn against a live broker connection built from
// the effective configuration, then tears everything down.
func (e *environment) withConnection(ctx context.Context, fn func(cli *client.Client, st *store.Store, logger *slog.Logger) error) error {
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

	host, port, err := brokerEndpoint(st, cfg)
	if err != nil {
		return err
	}
	cli := client.New(st, client.WithLogger(logger))
	if err := cli.Connect(host, port); err != nil {
		return fmt.Errorf("connect to %s:%d: %w", host, port, err)
	}
	defer cli.Disconnect()

	return fn(cli, st, logger)
}

func brokerEndpoint(st *store.Store, cfg *config.Config) (string, int, error) {
	host, err := st.GetBrokerHost()
	if err != nil {
		return "", 0, err
	}
	port, err := st.GetBrokerPort()
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		host, port = cfg.Broker.Host, cfg.Broker.Port
	}
	return host, port, nil
}

func runIdentity(e *environment, args []string) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	st, err := e.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch {
	case len(args) == 0:
		id, err := st.GetClientID()
		if err != nil {
			return err
		}
		if id == "" {
			fmt.Fprintln(e.stdout, "client id: (not set — run: tinymq identity generate)")
			return nil
		}
		fmt.Fprintf(e.stdout, "client id: %s\n", id)
		meta, err := st.GetClientMetadata()
		if err != nil {
			return err
		}
		for _, k := range []string{"name", "email"} {
			if v := meta[k]; v != "" {
				fmt.Fprintf(e.stdout, "%-10s %s\n", k+":", v)
			}
		}
		return nil
	case args[0] == "generate":
		id, err := st.GetOrCreateClientID()
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "client id: %s\n", id)
		return nil
	case args[0] == "set" && len(args) == 2:
		if err := st.SetClientID(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "client id: %s\n", args[1])
		return nil
	default:
		return fmt.Errorf("usage: tinymq identity [set <id> | generate]")
	}
}

func runBroker(e *environment, args []string) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	st, err := e.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch len(args) {
	case 0:
		host, port, err := brokerEndpoint(st, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "broker: %s:%d\n", host, port)
		return nil
	case 2:
		var port int
		if _, err := fmt.Sscanf(args[1], "%d", &port); err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port: %s", args[1])
		}
		if err := st.SetBrokerHost(args[0]); err != nil {
			return err
		}
		if err := st.SetBrokerPort(port); err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "broker: %s:%d\n", args[0], port)
		return nil
	default:
		return fmt.Errorf("usage: tinymq broker [<host> <port>]")
	}
}

func runTopics(ctx context.Context, e *environment, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "list":
		return e.withStore(func(st *store.Store) error {
			topics, err := st.GetTopics()
			if err != nil {
				return err
			}
			if len(topics) == 0 {
				fmt.Fprintln(e.stdout, "no topics")
				return nil
			}
			for _, topic := range topics {
				state := "off"
				if topic.Publish {
					state = "on"
				}
				fmt.Fprintf(e.stdout, "%-30s publish=%s\n", topic.Name, state)
			}
			return nil
		})

	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: tinymq topics create <name>")
		}
		name := args[1]
		return e.withConnection(ctx, func(cli *client.Client, st *store.Store, _ *slog.Logger) error {
			if _, err := st.CreateTopic(name, false); err != nil {
				return err
			}
			if err := cli.CreateTopic(name, nil); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "topic %s created\n", name)
			return nil
		})

	case "publish":
		if len(args) != 3 || (args[2] != "on" && args[2] != "off") {
			return fmt.Errorf("usage: tinymq topics publish <name> on|off")
		}
		name, enable := args[1], args[2] == "on"
		return e.withConnection(ctx, func(cli *client.Client, st *store.Store, _ *slog.Logger) error {
			if err := st.SetTopicPublish(name, enable); err != nil {
				return err
			}
			if err := cli.SetTopicPublish(name, enable); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "topic %s publish=%s\n", name, args[2])
			return nil
		})

	case "sensors":
		if len(args) < 2 {
			return fmt.Errorf("usage: tinymq topics sensors <name>")
		}
		return e.withStore(func(st *store.Store) error {
			sensors, err := st.GetTopicSensors(args[1])
			if err != nil {
				return err
			}
			if len(sensors) == 0 {
				fmt.Fprintln(e.stdout, "no sensors")
				return nil
			}
			for _, s := range sensors {
				fmt.Fprintf(e.stdout, "%-20s last=%s @%d\n", s.Name, s.LastValue, s.LastUpdated)
			}
			return nil
		})

	case "addsensor", "rmsensor":
		if len(args) != 3 {
			return fmt.Errorf("usage: tinymq topics %s <topic> <sensor>", args[0])
		}
		return e.withStore(func(st *store.Store) error {
			if args[0] == "addsensor" {
				if err := st.AddSensorToTopic(args[1], args[2]); err != nil {
					return err
				}
			} else {
				if err := st.RemoveSensorFromTopic(args[1], args[2]); err != nil {
					return err
				}
			}
			fmt.Fprintln(e.stdout, "ok")
			return nil
		})

	case "remote":
		return e.withConnection(ctx, func(cli *client.Client, _ *store.Store, _ *slog.Logger) error {
			topics, err := cli.PublishedTopics()
			if err != nil {
				return err
			}
			return printJSON(e.stdout, topics)
		})

	case "mine":
		return e.withConnection(ctx, func(cli *client.Client, _ *store.Store, _ *slog.Logger) error {
			topics, err := cli.ListMyTopics()
			if err != nil {
				return err
			}
			return printJSON(e.stdout, topics)
		})

	default:
		return fmt.Errorf("unknown topics subcommand: %s", args[0])
	}
}

// withStore runs fn against the local store only, without a broker
// connection.
func (e *environment) withStore(fn func(st *store.Store) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	st, err := e.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func runSubscribe(ctx context.Context, e *environment, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: tinymq subscribe <owner> <topic>")
	}
	owner, topic := args[0], args[1]

	return e.withStore(func(st *store.Store) error {
		subs, err := st.GetSubscriptions()
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if sub.Topic == topic && sub.SourceClient == owner {
				fmt.Fprintf(e.stdout, "already subscribed to %s/%s\n", owner, topic)
				return nil
			}
		}
		if err := st.AddSubscription(topic, owner); err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "subscribed to %s/%s (active on next connect)\n", owner, topic)
		return nil
	})
}

func runUnsubscribe(ctx context.Context, e *environment, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: tinymq unsubscribe <owner> <topic>")
	}
	owner, topic := args[0], args[1]

	return e.withStore(func(st *store.Store) error {
		if err := st.RemoveSubscription(topic, owner); err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "unsubscribed from %s/%s\n", owner, topic)
		return nil
	})
}

func runAdmin(ctx context.Context, e *environment, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tinymq admin <request|list|respond|revoke|resign|command|sensors|activable> ...")
	}

	switch args[0] {
	case "request":
		if len(args) != 3 {
			return fmt.Errorf("usage: tinymq admin request <topic> <owner>")
		}
		topic, owner := args[1], args[2]
		return e.withConnection(ctx, func(cli *client.Client, _ *store.Store, _ *slog.Logger) error {
			type verdict struct {
				success       bool
				message, code string
			}
			ack := make(chan verdict, 1)
			err := cli.RequestAdmin(topic, owner, func(success bool, message, code, _ string) {
				ack <- verdict{success, message, code}
			})
			if err != nil {
				return err
			}

			select {
			case v := <-ack:
				if !v.success {
					return fmt.Errorf("request denied (%s): %s", v.code, v.message)
				}
				fmt.Fprintf(e.stdout, "request sent: %s\n", v.message)
				return nil
			case <-time.After(adminAckTimeout):
				return errors.New("no acknowledgement from broker")
			case <-ctx.Done():
				return ctx.Err()
			}
		})

	case "list":
		which := "incoming"
		if len(args) > 1 {
			which = args[1]
		}
		return e.withConnection(ctx, func(cli *client.Client, _ *store.Store, _ *slog.Logger) error {
			switch which {
			case "incoming":
				reqs, err := cli.ListIncomingRequests()
				if err != nil {
					return err
				}
				return printJSON(e.stdout, reqs)
			case "mine":
				reqs, err := cli.ListMyRequests()
				if err != nil {
					return err
				}
				return printJSON(e.stdout, reqs)
			case "topics":
				topics, err := cli.ListMyAdminTopics()
				if err != nil {
					return err
				}
				return printJSON(e.stdout, topics)
			default:
				return fmt.Errorf("usage: tinymq admin list [incoming|mine|topics]")
			}
		})

	case "respond":
		if len(args) != 4 || (args[3] != "approve" && args[3] != "reject") {
			return fmt.Errorf("usage: tinymq admin respond <topic> <requester> approve|reject")
		}
		topic, requester, approved := args[1], args[2], args[3] == "approve"
		return e.withConnection(ctx, func(cli *client.Client, _ *store.Store, _ *slog.Logger) error {
			if err := cli.RespondToAdminRequest(topic, requester, approved); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "response sent for %s\n", topic)
			return nil
		})

	case "revoke":
		if len(args) != 3 {
			return fmt.Errorf("usage: tinymq admin revoke <topic> <admin>")
		}
		return e.withConnection(ctx, func(cli *client.Client, _ *store.Store, _ *slog.Logger) error {
			if err := cli.RevokeAdmin(args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "revocation sent for %s\n", args[1])
			return nil
		})

	case "resign":
		if len(args) != 2 {
			return fmt.Errorf("usage: tinymq admin resign <topic>")
		}
		return e.withConnection(ctx, func(cli *client.Client, _ *store.Store, _ *slog.Logger) error {
			ok, message, err := cli.ResignAdmin(args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("resign rejected: %s", message)
			}
			fmt.Fprintf(e.stdout, "resigned: %s\n", message)
			return nil
		})

	case "command":
		if len(args) != 4 || (args[3] != "on" && args[3] != "off") {
			return fmt.Errorf("usage: tinymq admin command <topic> <sensor> on|off")
		}
		topic, sensor, active := args[1], args[2], args[3] == "on"
		return e.withConnection(ctx, func(cli *client.Client, _ *store.Store, _ *slog.Logger) error {
			confirmed := make(chan client.SensorStatus, 1)
			cli.OnSensorStatus(func(s client.SensorStatus) { confirmed <- s })

			if err := cli.SendSensorCommand(topic, sensor, active); err != nil {
				return err
			}
			select {
			case s := <-confirmed:
				fmt.Fprintf(e.stdout, "sensor %s on %s now active=%v\n", s.Sensor, s.Topic, s.Active)
			case <-time.After(adminAckTimeout):
				fmt.Fprintln(e.stdout, "command sent (no confirmation received)")
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})

	case "sensors":
		if len(args) != 2 {
			return fmt.Errorf("usage: tinymq admin sensors <topic>")
		}
		return e.withConnection(ctx, func(cli *client.Client, _ *store.Store, _ *slog.Logger) error {
			sensors, err := cli.TopicSensors(args[1])
			if err != nil {
				return err
			}
			return printJSON(e.stdout, sensors)
		})

	case "activable":
		if len(args) != 4 || (args[3] != "on" && args[3] != "off") {
			return fmt.Errorf("usage: tinymq admin activable <topic> <sensor> on|off")
		}
		return e.withConnection(ctx, func(cli *client.Client, _ *store.Store, _ *slog.Logger) error {
			if err := cli.MarkActivable(args[1], args[2], args[3] == "on"); err != nil {
				return err
			}
			fmt.Fprintln(e.stdout, "ok")
			return nil
		})

	default:
		return fmt.Errorf("unknown admin subcommand: %s", args[0])
	}
}
