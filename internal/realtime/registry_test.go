package realtime

import (
	"fmt"
	"sync"
	"testing"

	"barpos/pkg/logging"

	"github.com/sirupsen/logrus"
)

func testLogger() logging.Logger {
	logger := logging.NewLogger()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeStream collects writes and can be told to fail.
type fakeStream struct {
	mu       sync.Mutex
	messages [][]byte
	failWith error
	closed   bool
}

func (f *fakeStream) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.messages = append(f.messages, buf)
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeStream) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil
	}
	return f.messages[len(f.messages)-1]
}

func newTestConn(userID, tenantID string, station Station) (*Connection, *fakeStream) {
	stream := &fakeStream{}
	return NewConnection(userID, tenantID, station, stream, testLogger()), stream
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig(), testLogger())
	conn, _ := newTestConn("u1", "t1", StationWaiter)

	if !r.AddClient(conn) {
		t.Fatal("expected add to succeed")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", r.Count())
	}
	if got := len(r.TenantClients("t1")); got != 1 {
		t.Fatalf("expected 1 tenant connection, got %d", got)
	}

	r.RemoveClient(conn.ID)
	if r.Count() != 0 {
		t.Fatalf("expected 0 connections after removal, got %d", r.Count())
	}
	if got := len(r.TenantClients("t1")); got != 0 {
		t.Fatalf("expected tenant index cleaned, got %d", got)
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig(), testLogger())
	conn, _ := newTestConn("u1", "t1", StationWaiter)
	r.AddClient(conn)
	r.Subscribe(conn.ID, ChannelOrders)

	r.RemoveClient(conn.ID)
	r.RemoveClient(conn.ID) // second removal must be a no-op
	r.RemoveClient("never-existed")

	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestRegistry_CapacityCeiling(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxConnections: 2}, testLogger())

	a, _ := newTestConn("u1", "t1", StationWaiter)
	b, _ := newTestConn("u2", "t1", StationBar)
	c, _ := newTestConn("u3", "t2", StationKitchen)

	if !r.AddClient(a) || !r.AddClient(b) {
		t.Fatal("expected first two adds to succeed")
	}
	if r.AddClient(c) {
		t.Fatal("expected add beyond ceiling to be rejected")
	}
	if r.Count() != 2 {
		t.Fatalf("rejected add must not mutate indexes, count=%d", r.Count())
	}
	if got := len(r.TenantClients("t2")); got != 0 {
		t.Fatalf("rejected add leaked into tenant index: %d", got)
	}

	// Removal frees a slot.
	r.RemoveClient(a.ID)
	if !r.AddClient(c) {
		t.Fatal("expected add to succeed after removal")
	}
}

func TestRegistry_TenantCeiling(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxConnections: 100, MaxTenantConnections: 1}, testLogger())

	a, _ := newTestConn("u1", "t1", StationWaiter)
	b, _ := newTestConn("u2", "t1", StationBar)
	c, _ := newTestConn("u3", "t2", StationBar)

	if !r.AddClient(a) {
		t.Fatal("expected first tenant connection to succeed")
	}
	if r.AddClient(b) {
		t.Fatal("expected second tenant connection to be rejected")
	}
	if !r.AddClient(c) {
		t.Fatal("expected other tenant to be unaffected")
	}
}

func TestRegistry_SubscribeIdempotent(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig(), testLogger())
	conn, _ := newTestConn("u1", "t1", StationWaiter)
	r.AddClient(conn)

	r.Subscribe(conn.ID, ChannelOrders)
	r.Subscribe(conn.ID, ChannelOrders) // duplicate is a no-op

	if got := len(r.ChannelClients("t1", ChannelOrders)); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	r.Unsubscribe(conn.ID, ChannelOrders)
	if got := len(r.ChannelClients("t1", ChannelOrders)); got != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", got)
	}
}

func TestRegistry_UnknownChannelIgnored(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig(), testLogger())
	conn, _ := newTestConn("u1", "t1", StationWaiter)
	r.AddClient(conn)

	r.Subscribe(conn.ID, Channel("definitely-not-real"))
	if got := len(conn.Channels()); got != 0 {
		t.Fatalf("unknown channel must not subscribe, got %v", conn.Channels())
	}
}

// Index consistency under concurrent add/remove/subscribe churn: at the end
// every surviving connection is present in exactly the indexes implied by
// its subscriptions, and removed ones in none.
func TestRegistry_ConcurrentConsistency(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxConnections: 0}, testLogger())

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	ids := make([][]string, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			tenant := fmt.Sprintf("t%d", w%3)
			for i := 0; i < perWorker; i++ {
				conn, _ := newTestConn(fmt.Sprintf("u%d-%d", w, i), tenant, StationWaiter)
				if !r.AddClient(conn) {
					continue
				}
				r.Subscribe(conn.ID, ChannelOrders, ChannelNotifications)
				if i%2 == 0 {
					r.RemoveClient(conn.ID)
				} else {
					ids[w] = append(ids[w], conn.ID)
				}
			}
		}(w)
	}
	wg.Wait()

	survivors := 0
	for _, list := range ids {
		survivors += len(list)
	}
	if r.Count() != survivors {
		t.Fatalf("expected %d survivors, got %d", survivors, r.Count())
	}

	// Every survivor must appear in orders and notifications indexes.
	subscribed := 0
	for t3 := 0; t3 < 3; t3++ {
		tenant := fmt.Sprintf("t%d", t3)
		subscribed += len(r.ChannelClients(tenant, ChannelOrders))
	}
	if subscribed != survivors {
		t.Fatalf("channel index out of sync: %d subscribed vs %d survivors", subscribed, survivors)
	}
}

func TestChannelsForStation(t *testing.T) {
	cases := []struct {
		station Station
		want    int
		has     Channel
	}{
		{StationWaiter, 4, ChannelWaiter},
		{StationKitchen, 4, ChannelKitchen},
		{StationBar, 4, ChannelBar},
		{StationCashier, 4, ChannelCashier},
		{StationSupervisor, 7, ChannelKitchen},
	}
	for _, tc := range cases {
		channels := ChannelsForStation(tc.station)
		if len(channels) != tc.want {
			t.Fatalf("%s: expected %d channels, got %v", tc.station, tc.want, channels)
		}
		found := false
		for _, ch := range channels {
			if ch == tc.has {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s: expected channel %s in %v", tc.station, tc.has, channels)
		}
	}

	// Unknown stations get only the shared channels.
	channels := ChannelsForStation(Station("mystery"))
	if len(channels) != 2 {
		t.Fatalf("unknown station should get shared channels only, got %v", channels)
	}
}

func TestParseStation(t *testing.T) {
	if _, ok := ParseStation("kitchen"); !ok {
		t.Fatal("kitchen should parse")
	}
	if _, ok := ParseStation("dishwasher"); ok {
		t.Fatal("unknown role must not parse to a station")
	}
}
