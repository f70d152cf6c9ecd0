// Tinymq is the operator client for the TinyMQ publish/subscribe
// platform.
//
// It keeps local state (identity, sensors, topics, subscriptions) in a
// SQLite database, talks to the broker over TCP, and reads sensor data
// from an attached microcontroller over a serial link. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	tinymq init [dir]                 Initialize a working directory
//	tinymq identity [set <id>]        Show or set the client identity
//	tinymq broker [<host> <port>]     Show or set the broker endpoint
//	tinymq connect                    Connect and run until interrupted
//	tinymq topics <subcommand>        Manage topics
//	tinymq subscribe <owner> <topic>  Subscribe to a remote topic
//	tinymq admin <subcommand>         Delegation operations
//	tinymq version                    Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tinymq/tinymq-go/internal/buildinfo"
	"github.com/tinymq/tinymq-go/internal/config"
	"github.com/tinymq/tinymq-go/internal/store"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the tinymq command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run concurrently from tests, and
// the argument surface is small enough that manual parsing is clearer
// than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var logLevel string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-log" && i+1 < len(args):
			logLevel = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-log="):
			logLevel = strings.TrimPrefix(args[i], "-log=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	env := &environment{
		stdout:     stdout,
		stderr:     stderr,
		configPath: configPath,
		logLevel:   logLevel,
	}

	switch command {
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "identity":
		return runIdentity(env, cmdArgs)
	case "broker":
		return runBroker(env, cmdArgs)
	case "connect":
		return runConnect(ctx, env)
	case "topics":
		return runTopics(ctx, env, cmdArgs)
	case "subscribe":
		return runSubscribe(ctx, env, cmdArgs)
	case "unsubscribe":
		return runUnsubscribe(ctx, env, cmdArgs)
	case "admin":
		return runAdmin(ctx, env, cmdArgs)
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// environment bundles the per-invocation dependencies every subcommand
// needs.
type environment struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	logLevel   string
}

// logger builds the structured logger for a subcommand, honouring the
// -log flag over the config file's level.
func (e *environment) logger(cfg *config.Config) *slog.Logger {
	levelName := cfg.LogLevel
	if e.logLevel != "" {
		levelName = e.logLevel
	}
	level := slog.LevelInfo
	if levelName != "" {
		if parsed, err := config.ParseLogLevel(levelName); err == nil {
			level = parsed
		}
	}
	return newLogger(e.stderr, level)
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig resolves the effective configuration. A missing config
// file is not an error: the built-in defaults let a fresh checkout run
// before the operator has written one.
func (e *environment) loadConfig() (*config.Config, error) {
	path, err := config.FindConfig(e.configPath)
	if err != nil {
		if e.configPath != "" {
			return nil, err
		}
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// openStore opens the local database and seeds identity and broker
// endpoint rows from the config file on first run. The store is
// authoritative once rows exist.
func (e *environment) openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	id, err := st.GetClientID()
	if err != nil {
		st.Close()
		return nil, err
	}
	if id == "" && cfg.Identity.ClientID != "" {
		if err := st.SetClientID(cfg.Identity.ClientID); err != nil {
			st.Close()
			return nil, err
		}
	}
	if cfg.Identity.Name != "" || cfg.Identity.Email != "" {
		meta, err := st.GetClientMetadata()
		if err == nil && len(meta) == 0 {
			_ = st.SetClientMetadata(map[string]string{
				"name":  cfg.Identity.Name,
				"email": cfg.Identity.Email,
			})
		}
	}

	if host, err := st.GetBrokerHost(); err == nil && host == "" {
		_ = st.SetBrokerHost(cfg.Broker.Host)
		_ = st.SetBrokerPort(cfg.Broker.Port)
	}
	return st, nil
}

func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	info := buildinfo.Info()
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "tinymq - TinyMQ operator client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tinymq [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init [dir]                      Initialize working directory (default: .)")
	fmt.Fprintln(w, "  identity [set <id> | generate]  Show or set the client identity")
	fmt.Fprintln(w, "  broker [<host> <port>]          Show or set the broker endpoint")
	fmt.Fprintln(w, "  connect                         Connect, acquire, publish until interrupted")
	fmt.Fprintln(w, "  topics list                     List local topics")
	fmt.Fprintln(w, "  topics create <name>            Create and announce a topic")
	fmt.Fprintln(w, "  topics publish <name> on|off    Toggle a topic's publish flag")
	fmt.Fprintln(w, "  topics sensors <name>           List a topic's sensor set")
	fmt.Fprintln(w, "  topics addsensor <name> <s>     Add a sensor to a topic")
	fmt.Fprintln(w, "  topics rmsensor <name> <s>      Remove a sensor from a topic")
	fmt.Fprintln(w, "  subscribe <owner> <topic>       Subscribe to a remote topic")
	fmt.Fprintln(w, "  unsubscribe <owner> <topic>     Drop a subscription")
	fmt.Fprintln(w, "  admin request <topic> <owner>   Request admin rights on a remote topic")
	fmt.Fprintln(w, "  admin list                      List pending requests on own topics")
	fmt.Fprintln(w, "  admin respond <topic> <requester> approve|reject")
	fmt.Fprintln(w, "  admin revoke <topic> <admin>    Revoke granted admin rights")
	fmt.Fprintln(w, "  admin resign <topic>            Resign held admin rights")
	fmt.Fprintln(w, "  admin command <topic> <sensor> on|off")
	fmt.Fprintln(w, "  version                         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>  Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -log <level>    Log level: trace, debug, info, warn, error")
	return nil
}

// printJSON pretty-prints v for subcommand output.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
