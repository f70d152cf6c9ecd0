package store

import (
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite" // cgo-free driver for test databases
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	s, err := New(db)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddReading_CreatesSensorLazily(t *testing.T) {
	s := testStore(t)

	if err := s.AddReading("temperature", "22.4", 1700000000, "C"); err != nil {
		t.Fatalf("AddReading failed: %v", err)
	}

	sn, err := s.GetSensor("temperature")
	if err != nil {
		t.Fatalf("GetSensor failed: %v", err)
	}
	if sn.LastValue != "22.4" {
		t.Errorf("last_value = %q, want %q", sn.LastValue, "22.4")
	}
	if sn.LastUpdated != 1700000000 {
		t.Errorf("last_updated = %d, want 1700000000", sn.LastUpdated)
	}
}

func TestAddReading_LastWriteWins(t *testing.T) {
	s := testStore(t)

	for i, v := range []string{"10", "20", "30"} {
		if err := s.AddReading("t", v, int64(1700000000+i), "C"); err != nil {
			t.Fatalf("AddReading %d failed: %v", i, err)
		}
	}

	sn, err := s.GetSensor("t")
	if err != nil {
		t.Fatal(err)
	}
	if sn.LastValue != "30" || sn.LastUpdated != 1700000002 {
		t.Errorf("sensor = (%q, %d), want (%q, %d)", sn.LastValue, sn.LastUpdated, "30", 1700000002)
	}

	readings, err := s.GetReadings("t", 10, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 3 {
		t.Errorf("readings = %d, want 3 (append-only)", len(readings))
	}
	if readings[0].Value != "30" {
		t.Errorf("newest reading = %q, want %q", readings[0].Value, "30")
	}
}

func TestAddReading_ExactlyOneSensorRow(t *testing.T) {
	s := testStore(t)

	for range 5 {
		if err := s.AddReading("humidity", "55", 0, "%"); err != nil {
			t.Fatal(err)
		}
	}

	sensors, err := s.GetSensors()
	if err != nil {
		t.Fatal(err)
	}
	if len(sensors) != 1 {
		t.Errorf("sensor rows = %d, want 1", len(sensors))
	}
}

func TestGetSensor_ByID(t *testing.T) {
	s := testStore(t)

	if err := s.AddReading("fan", "0", 1700000000, ""); err != nil {
		t.Fatal(err)
	}
	byName, err := s.GetSensor("fan")
	if err != nil {
		t.Fatal(err)
	}

	byID, err := s.GetSensor("1")
	if err != nil {
		t.Fatalf("GetSensor by id failed: %v", err)
	}
	if byID.Name != byName.Name {
		t.Errorf("lookup by id = %q, want %q", byID.Name, byName.Name)
	}
}

func TestGetSensor_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetSensor("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReadings_TimeRange(t *testing.T) {
	s := testStore(t)

	for i := range 10 {
		if err := s.AddReading("t", "1", int64(1000+i), ""); err != nil {
			t.Fatal(err)
		}
	}

	readings, err := s.GetReadings("t", 100, 1003, 1006)
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 4 {
		t.Fatalf("readings in range = %d, want 4", len(readings))
	}
	if readings[0].Timestamp != 1006 || readings[3].Timestamp != 1003 {
		t.Errorf("range = [%d..%d], want [1006..1003]", readings[0].Timestamp, readings[3].Timestamp)
	}
}

func TestAddSubscription_Idempotent(t *testing.T) {
	s := testStore(t)

	if err := s.AddSubscription("weather", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSubscription("weather", "bob"); err != nil {
		t.Fatalf("second AddSubscription failed: %v", err)
	}

	subs, err := s.GetSubscriptions()
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Fatalf("active subscriptions = %d, want exactly 1", len(subs))
	}
	if subs[0].Topic != "weather" || subs[0].SourceClient != "bob" {
		t.Errorf("subscription = %+v, want (weather, bob)", subs[0])
	}
}

func TestRemoveSubscription_KeepsHistory(t *testing.T) {
	s := testStore(t)

	if err := s.AddSubscription("weather", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSubscriptionData("weather", "bob", 1700000000, `{"sensor":"t"}`); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveSubscription("weather", "bob"); err != nil {
		t.Fatal(err)
	}

	subs, err := s.GetSubscriptions()
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Errorf("active subscriptions after remove = %d, want 0", len(subs))
	}

	data, err := s.GetSubscriptionData("weather", "bob", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1 {
		t.Errorf("history rows after remove = %d, want 1", len(data))
	}
}

func TestAddSubscription_ReactivatesSameRow(t *testing.T) {
	s := testStore(t)

	if err := s.AddSubscription("weather", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveSubscription("weather", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSubscription("weather", "bob"); err != nil {
		t.Fatal(err)
	}

	subs, err := s.GetSubscriptions()
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Errorf("active subscriptions = %d, want 1", len(subs))
	}
}

func TestAddSubscriptionData_RejectsInactive(t *testing.T) {
	s := testStore(t)

	err := s.AddSubscriptionData("nope", "bob", 0, "{}")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown subscription: expected ErrNotFound, got %v", err)
	}

	if err := s.AddSubscription("weather", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveSubscription("weather", "bob"); err != nil {
		t.Fatal(err)
	}
	err = s.AddSubscriptionData("weather", "bob", 0, "{}")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("inactive subscription: expected ErrNotFound, got %v", err)
	}
}

func TestTopics_PublishFlag(t *testing.T) {
	s := testStore(t)

	if _, err := s.CreateTopic("weather", false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTopic("lab", true); err != nil {
		t.Fatal(err)
	}

	published, err := s.GetPublishedTopics()
	if err != nil {
		t.Fatal(err)
	}
	if len(published) != 1 || published[0].Name != "lab" {
		t.Fatalf("published = %+v, want just lab", published)
	}

	if err := s.SetTopicPublish("weather", true); err != nil {
		t.Fatal(err)
	}
	published, err = s.GetPublishedTopics()
	if err != nil {
		t.Fatal(err)
	}
	if len(published) != 2 {
		t.Errorf("published after toggle = %d, want 2", len(published))
	}
}

func TestSetTopicPublish_UnknownTopic(t *testing.T) {
	s := testStore(t)
	if err := s.SetTopicPublish("ghost", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTopicSensors_Membership(t *testing.T) {
	s := testStore(t)

	if err := s.AddReading("t", "20", 0, "C"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddReading("h", "55", 0, "%"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTopic("weather", true); err != nil {
		t.Fatal(err)
	}

	if err := s.AddSensorToTopic("weather", "t"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSensorToTopic("weather", "t"); err != nil {
		t.Fatalf("duplicate membership should be a no-op: %v", err)
	}
	if err := s.AddSensorToTopic("weather", "h"); err != nil {
		t.Fatal(err)
	}

	sensors, err := s.GetTopicSensors("weather")
	if err != nil {
		t.Fatal(err)
	}
	if len(sensors) != 2 {
		t.Fatalf("topic sensors = %d, want 2", len(sensors))
	}

	if err := s.RemoveSensorFromTopic("weather", "h"); err != nil {
		t.Fatal(err)
	}
	sensors, err = s.GetTopicSensors("weather")
	if err != nil {
		t.Fatal(err)
	}
	if len(sensors) != 1 || sensors[0].Name != "t" {
		t.Errorf("after remove = %+v, want just t", sensors)
	}
}

func TestAddSensorToTopic_UnknownSensor(t *testing.T) {
	s := testStore(t)
	if err := s.AddSensorToTopic("weather", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClientID_GeneratedOnce(t *testing.T) {
	s := testStore(t)

	id, err := s.GetOrCreateClientID()
	if err != nil {
		t.Fatalf("GetOrCreateClientID failed: %v", err)
	}
	if id == "" {
		t.Fatal("generated client id is empty")
	}

	again, err := s.GetOrCreateClientID()
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("second call = %q, want %q (stable across calls)", again, id)
	}
}

func TestClientMetadata_RoundTrip(t *testing.T) {
	s := testStore(t)

	meta, err := s.GetClientMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if len(meta) != 0 {
		t.Errorf("fresh metadata = %v, want empty", meta)
	}

	want := map[string]string{"name": "Alice", "email": "alice@example.edu"}
	if err := s.SetClientMetadata(want); err != nil {
		t.Fatal(err)
	}
	meta, err = s.GetClientMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if meta["name"] != "Alice" || meta["email"] != "alice@example.edu" {
		t.Errorf("metadata = %v, want %v", meta, want)
	}
}

func TestBrokerEndpoint(t *testing.T) {
	s := testStore(t)

	host, err := s.GetBrokerHost()
	if err != nil {
		t.Fatal(err)
	}
	port, err := s.GetBrokerPort()
	if err != nil {
		t.Fatal(err)
	}
	if host != "" || port != 0 {
		t.Errorf("unset endpoint = (%q, %d), want (\"\", 0)", host, port)
	}

	if err := s.SetBrokerHost("broker.lab.example"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBrokerPort(1505); err != nil {
		t.Fatal(err)
	}

	host, _ = s.GetBrokerHost()
	port, _ = s.GetBrokerPort()
	if host != "broker.lab.example" || port != 1505 {
		t.Errorf("endpoint = (%q, %d), want (broker.lab.example, 1505)", host, port)
	}
}
