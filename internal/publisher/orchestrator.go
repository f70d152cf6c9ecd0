// Package publisher keeps the data-acquisition callbacks consistent
// with the store's topic configuration: one publish callback per topic
// whose publish flag is set, each forwarding matching sensor readings
// to the broker as JSON.
package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinymq/tinymq-go/internal/das"
	"github.com/tinymq/tinymq-go/internal/events"
	"github.com/tinymq/tinymq-go/internal/store"
)

// Store is the configuration surface the orchestrator reads.
// *store.Store satisfies it.
type Store interface {
	GetPublishedTopics() ([]store.Topic, error)
	GetTopicSensors(topicName string) ([]store.Sensor, error)
	GetTopic(idOrName string) (*store.Topic, error)
}

// DAS is the callback registry half of the acquisition service.
type DAS interface {
	AddDataCallback(fn das.DataCallback)
	ClearCallbacks()
}

// Publisher sends one message on a topic. *client.Client satisfies it.
type Publisher interface {
	Publish(topic, message string) error
}

// Orchestrator rebuilds the DAS callback set from the store. Run
// Rebuild after connect and after any topic or sensor-membership
// mutation.
type Orchestrator struct {
	Store  Store
	DAS    DAS
	Pub    Publisher
	Bus    *events.Bus
	Logger *slog.Logger
}

// Rebuild clears every DAS callback and reinstalls the current set:
// the baseline observer that mirrors readings onto the event bus, plus
// one publish callback per topic with the publish flag set. Clearing
// first is what keeps stale closures from surviving a membership
// change.
func (o *Orchestrator) Rebuild() error {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	topics, err := o.Store.GetPublishedTopics()
	if err != nil {
		return fmt.Errorf("load published topics: %w", err)
	}

	o.DAS.ClearCallbacks()
	o.DAS.AddDataCallback(o.baselineCallback())

	installed := 0
	for _, topic := range topics {
		sensors, err := o.Store.GetTopicSensors(topic.Name)
		if err != nil {
			return fmt.Errorf("load sensors for %q: %w", topic.Name, err)
		}
		members := make(map[string]bool, len(sensors))
		for _, s := range sensors {
			members[s.Name] = true
		}
		o.DAS.AddDataCallback(o.publishCallback(topic.Name, members, logger))
		installed++
	}

	logger.Info("publish callbacks rebuilt", "topics", installed)
	return nil
}

// baselineCallback mirrors every reading onto the event bus so drivers
// can observe the stream. Persistence already happened in the DAS
// reader.
func (o *Orchestrator) baselineCallback() das.DataCallback {
	return func(sensorName string, r das.Reading) {
		o.Bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceSerial,
			Kind:      events.KindReading,
			Data: map[string]any{
				"sensor":    sensorName,
				"value":     r.Value,
				"units":     r.Units,
				"timestamp": r.Timestamp,
			},
		})
	}
}

// publishCallback is bound to one topic and the sensor set observed at
// rebuild time. It re-reads the publish flag on every event, so a
// toggled-off topic stops emitting before the next rebuild.
func (o *Orchestrator) publishCallback(topicName string, members map[string]bool, logger *slog.Logger) das.DataCallback {
	return func(sensorName string, r das.Reading) {
		if !members[sensorName] {
			return
		}
		topic, err := o.Store.GetTopic(topicName)
		if err != nil || !topic.Publish {
			return
		}

		message, err := json.Marshal(map[string]any{
			"sensor":    sensorName,
			"value":     r.Value,
			"timestamp": r.Timestamp,
			"units":     r.Units,
		})
		if err != nil {
			logger.Error("encode reading", "sensor", sensorName, "error", err)
			return
		}
		if err := o.Pub.Publish(topicName, string(message)); err != nil {
			logger.Warn("publish reading failed", "topic", topicName, "sensor", sensorName, "error", err)
		}
	}
}
