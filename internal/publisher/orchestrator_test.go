package publisher

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tinymq/tinymq-go/internal/das"
	"github.com/tinymq/tinymq-go/internal/events"
	"github.com/tinymq/tinymq-go/internal/store"
)

// fakeStore holds topic configuration in memory with a mutable publish
// flag per topic.
type fakeStore struct {
	mu      sync.Mutex
	publish map[string]bool
	sensors map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{publish: map[string]bool{}, sensors: map[string][]string{}}
}

func (f *fakeStore) addTopic(name string, publish bool, sensors ...string) {
	f.mu.Lock()
	f.publish[name] = publish
	f.sensors[name] = sensors
	f.mu.Unlock()
}

func (f *fakeStore) setPublish(name string, publish bool) {
	f.mu.Lock()
	f.publish[name] = publish
	f.mu.Unlock()
}

func (f *fakeStore) GetPublishedTopics() ([]store.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Topic
	for name, pub := range f.publish {
		if pub {
			out = append(out, store.Topic{Name: name, Publish: true})
		}
	}
	return out, nil
}

func (f *fakeStore) GetTopicSensors(topicName string) ([]store.Sensor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Sensor
	for _, name := range f.sensors[topicName] {
		out = append(out, store.Sensor{Name: name})
	}
	return out, nil
}

func (f *fakeStore) GetTopic(idOrName string) (*store.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pub, ok := f.publish[idOrName]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Topic{Name: idOrName, Publish: pub}, nil
}

// fakeDAS records registered callbacks and lets tests fire readings
// through them.
type fakeDAS struct {
	mu        sync.Mutex
	callbacks []das.DataCallback
}

func (f *fakeDAS) AddDataCallback(fn das.DataCallback) {
	f.mu.Lock()
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

func (f *fakeDAS) ClearCallbacks() {
	f.mu.Lock()
	f.callbacks = nil
	f.mu.Unlock()
}

func (f *fakeDAS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.callbacks)
}

func (f *fakeDAS) fire(sensor string, r das.Reading) {
	f.mu.Lock()
	cbs := append([]das.DataCallback(nil), f.callbacks...)
	f.mu.Unlock()
	for _, fn := range cbs {
		fn(sensor, r)
	}
}

type publishCall struct {
	topic, message string
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
}

func (f *fakePublisher) Publish(topic, message string) error {
	f.mu.Lock()
	f.calls = append(f.calls, publishCall{topic, message})
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) all() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.calls...)
}

func newOrchestrator(st *fakeStore, d *fakeDAS, pub *fakePublisher, bus *events.Bus) *Orchestrator {
	return &Orchestrator{
		Store:  st,
		DAS:    d,
		Pub:    pub,
		Bus:    bus,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestOrchestrator_OneCallbackPerPublishedTopic(t *testing.T) {
	st := newFakeStore()
	st.addTopic("weather", true, "t", "h")
	st.addTopic("garden", true, "soil")
	st.addTopic("private", false, "x")

	d := &fakeDAS{}
	o := newOrchestrator(st, d, &fakePublisher{}, nil)

	if err := o.Rebuild(); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	// Baseline plus one per published topic.
	if got := d.count(); got != 3 {
		t.Errorf("callbacks after rebuild = %d, want 3", got)
	}

	// Rebuilding again must not accumulate.
	if err := o.Rebuild(); err != nil {
		t.Fatalf("second Rebuild failed: %v", err)
	}
	if got := d.count(); got != 3 {
		t.Errorf("callbacks after second rebuild = %d, want 3", got)
	}
}

func TestOrchestrator_PublishesMatchingReadings(t *testing.T) {
	st := newFakeStore()
	st.addTopic("weather", true, "t")

	d := &fakeDAS{}
	pub := &fakePublisher{}
	o := newOrchestrator(st, d, pub, nil)
	if err := o.Rebuild(); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	d.fire("t", das.Reading{Value: "22.4", Timestamp: 1700000000, Units: "C"})
	d.fire("pressure", das.Reading{Value: "1013", Timestamp: 1700000001, Units: "hPa"})

	calls := pub.all()
	if len(calls) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(calls))
	}
	if calls[0].topic != "weather" {
		t.Errorf("published topic = %q, want weather", calls[0].topic)
	}
	var msg map[string]any
	if err := json.Unmarshal([]byte(calls[0].message), &msg); err != nil {
		t.Fatalf("message not JSON: %v", err)
	}
	if msg["sensor"] != "t" || msg["value"] != "22.4" || msg["units"] != "C" || msg["timestamp"] != float64(1700000000) {
		t.Errorf("message = %v", msg)
	}
}

func TestOrchestrator_DisabledTopicStopsEmitting(t *testing.T) {
	st := newFakeStore()
	st.addTopic("weather", true, "t")

	d := &fakeDAS{}
	pub := &fakePublisher{}
	o := newOrchestrator(st, d, pub, nil)
	if err := o.Rebuild(); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	// Flip the flag without rebuilding: the installed callback re-reads
	// it per event and must stay silent.
	st.setPublish("weather", false)
	d.fire("t", das.Reading{Value: "22.4", Timestamp: 1700000000, Units: "C"})

	if calls := pub.all(); len(calls) != 0 {
		t.Errorf("publish calls after disable = %d, want 0", len(calls))
	}

	// Re-enable: emission resumes with the same callback.
	st.setPublish("weather", true)
	d.fire("t", das.Reading{Value: "23.0", Timestamp: 1700000100, Units: "C"})
	if calls := pub.all(); len(calls) != 1 {
		t.Errorf("publish calls after re-enable = %d, want 1", len(calls))
	}
}

func TestOrchestrator_BaselineForwardsToBus(t *testing.T) {
	st := newFakeStore()
	bus := events.New()
	d := &fakeDAS{}
	o := newOrchestrator(st, d, &fakePublisher{}, bus)
	if err := o.Rebuild(); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)

	d.fire("t", das.Reading{Value: "22.4", Timestamp: 1700000000, Units: "C"})

	select {
	case e := <-ch:
		if e.Source != events.SourceSerial || e.Kind != events.KindReading {
			t.Errorf("event = %s/%s, want serial/reading", e.Source, e.Kind)
		}
		if e.Data["sensor"] != "t" || e.Data["value"] != "22.4" {
			t.Errorf("event data = %v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("baseline event never reached the bus")
	}
}
