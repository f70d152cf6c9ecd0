// Sensorsim emulates the classroom microcontroller on stdio: it emits
// line-framed JSON arrays of sensor readings on stdout and answers
// set_<sensor> commands read from stdin, exactly like the device on the
// other end of the serial link. Point a pty at it (or pipe it into a
// test) to develop without hardware.
//
// Usage:
//
//	sensorsim [-interval 2s]
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdin io.Reader, stdout io.Writer, args []string) error {
	interval := 2 * time.Second
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-interval" && i+1 < len(args):
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid interval: %w", err)
			}
			interval = d
			i++
		case strings.HasPrefix(args[i], "-interval="):
			d, err := time.ParseDuration(strings.TrimPrefix(args[i], "-interval="))
			if err != nil {
				return fmt.Errorf("invalid interval: %w", err)
			}
			interval = d
		default:
			return fmt.Errorf("usage: sensorsim [-interval <duration>]")
		}
	}

	sim := newSimulator()
	var outMu sync.Mutex
	emit := func(v any) {
		line, err := json.Marshal(v)
		if err != nil {
			return
		}
		outMu.Lock()
		fmt.Fprintf(stdout, "%s\n", line)
		outMu.Unlock()
	}

	// Command reader: one JSON object per line, answered with a result
	// or error object, as the firmware does.
	go func() {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			emit(sim.handleCommand(line))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			emit(sim.readings())
		}
	}
}

// simulator holds the synthetic sensor state: slow-drifting ambient
// values plus an actuator the set_fan command toggles.
type simulator struct {
	mu    sync.Mutex
	fan   int
	phase float64
}

func newSimulator() *simulator {
	return &simulator{}
}

type reading struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Units string `json:"units,omitempty"`
}

func (s *simulator) readings() []reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase += 0.1

	temp := 22.0 + 3.0*math.Sin(s.phase) + rand.Float64()*0.4
	hum := 55.0 + 10.0*math.Cos(s.phase/2) + rand.Float64()
	return []reading{
		{Name: "temperature", Value: math.Round(temp*10) / 10, Units: "C"},
		{Name: "humidity", Value: math.Round(hum), Units: "%"},
		{Name: "fan", Value: s.fan},
	}
}

func (s *simulator) handleCommand(line string) any {
	var cmd struct {
		Command string `json:"command"`
		Value   int    `json:"value"`
	}
	if err := json.Unmarshal([]byte(line), &cmd); err != nil {
		return map[string]string{"error": "invalid JSON"}
	}

	name, ok := strings.CutPrefix(cmd.Command, "set_")
	if !ok {
		return map[string]string{"error": "unknown command: " + cmd.Command}
	}
	if name != "fan" {
		return map[string]string{"error": "sensor not controllable: " + name}
	}

	s.mu.Lock()
	s.fan = cmd.Value
	s.mu.Unlock()
	return map[string]any{"result": "ok", "command": cmd.Command}
}
