package journal

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/heos-hub-go/internal/db"
	"github.com/strefethen/heos-hub-go/internal/heos/events"
	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

var quietLogger = log.New(io.Discard, "", 0)

func setupTestDB(t *testing.T) *db.DBPair {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	return dbPair
}

func testEvent(t *testing.T, name, message string) events.Event {
	t.Helper()
	env, err := protocol.ParseEnvelope([]byte(`{"heos":{"command":"event/` + name + `","message":"` + message + `"}}`))
	require.NoError(t, err)
	return events.NewEvent(env, "10.0.0.1")
}

func TestRepository_InsertAndGet(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ev := testEvent(t, "player_volume_changed", "pid=1234&level=78&mute=off")

	require.NoError(t, repo.Insert(ev))
	require.NoError(t, repo.Insert(ev), "duplicate insert is ignored")

	entry, err := repo.Get(ev.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "player_volume_changed", entry.Event)
	require.Equal(t, "event/player_volume_changed", entry.Command)
	require.Equal(t, "pid=1234&level=78&mute=off", entry.Message)
	require.Equal(t, "10.0.0.1", entry.Host)
	require.NotNil(t, entry.PID)
	require.Equal(t, 1234, *entry.PID)
	require.WithinDuration(t, ev.ReceivedAt, entry.ReceivedAt, time.Microsecond)

	var heos map[string]any
	require.NoError(t, json.Unmarshal(entry.Heos, &heos))
	require.Equal(t, "event/player_volume_changed", heos["heos"].(map[string]any)["command"])

	missing, err := repo.Get("nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRepository_ListFilters(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	base := time.Now().UTC().Add(-time.Hour)
	inputs := []events.Event{
		testEvent(t, "player_state_changed", "pid=1&state=play"),
		testEvent(t, "player_volume_changed", "pid=1&level=10&mute=off"),
		testEvent(t, "player_state_changed", "pid=2&state=stop"),
		testEvent(t, "sources_changed", ""),
	}
	for i := range inputs {
		inputs[i].ReceivedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Insert(inputs[i]))
	}

	all, total, err := repo.List(Filter{})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Equal(t, "sources_changed", all[0].Event, "newest first")
	require.Nil(t, all[0].PID)

	states, total, err := repo.List(Filter{Event: "player_state_changed"})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, states, 2)

	pid := 1
	byPID, _, err := repo.List(Filter{PID: &pid})
	require.NoError(t, err)
	require.Len(t, byPID, 2)

	since := base.Add(90 * time.Second)
	recent, _, err := repo.List(Filter{Since: &since})
	require.NoError(t, err)
	require.Len(t, recent, 2)

	page, total, err := repo.List(Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, page, 1)
	require.Equal(t, inputs[2].ID, page[0].EventID)
}

func TestRepository_Prune(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	old := testEvent(t, "player_state_changed", "pid=1&state=play")
	old.ReceivedAt = time.Now().UTC().AddDate(0, 0, -40)
	fresh := testEvent(t, "player_state_changed", "pid=1&state=stop")
	require.NoError(t, repo.Insert(old))
	require.NoError(t, repo.Insert(fresh))

	count, err := repo.Prune(time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	entries, _, err := repo.List(Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, fresh.ID, entries[0].EventID)
}

func TestService_RecordsBroadcastEvents(t *testing.T) {
	broadcast := events.NewBroadcast(16)
	service := NewService(setupTestDB(t), broadcast, Options{Logger: quietLogger})

	require.NoError(t, service.Start())
	require.NoError(t, service.Start(), "second start is a no-op")
	require.True(t, service.Running())
	require.Equal(t, 1, broadcast.Len())

	broadcast.Publish(testEvent(t, "player_state_changed", "pid=1&state=play"))
	broadcast.Publish(testEvent(t, "player_volume_changed", "pid=1&level=5&mute=on"))

	require.Eventually(t, func() bool {
		recorded, _ := service.Stats()
		return recorded == 2
	}, 2*time.Second, 10*time.Millisecond)

	entries, total, hasMore, err := service.List(Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.False(t, hasMore)
	require.Equal(t, "player_volume_changed", entries[0].Event)

	service.Stop()
	require.False(t, service.Running())
	require.Zero(t, broadcast.Len())
	require.True(t, service.IsHealthy())
}

func TestService_ResubscribesAfterEviction(t *testing.T) {
	broadcast := events.NewBroadcast(1)
	service := NewService(setupTestDB(t), broadcast, Options{Logger: quietLogger})

	sub := broadcast.Subscribe()
	broadcast.Publish(testEvent(t, "a", ""))
	broadcast.Publish(testEvent(t, "b", ""))
	require.True(t, sub.Evicted())

	service.running = true
	service.sub = sub
	service.stopCh = make(chan struct{})
	service.cron = cron.New()
	service.wg.Add(1)
	go service.record(sub, service.stopCh)

	require.Eventually(t, func() bool { return broadcast.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	broadcast.Publish(testEvent(t, "c", ""))

	require.Eventually(t, func() bool {
		recorded, gaps := service.Stats()
		return recorded == 2 && gaps == 1
	}, 2*time.Second, 10*time.Millisecond)

	service.Stop()
	require.Zero(t, broadcast.Len())
}

func TestService_StopsWhenBroadcastCloses(t *testing.T) {
	broadcast := events.NewBroadcast(4)
	service := NewService(setupTestDB(t), broadcast, Options{Logger: quietLogger})
	require.NoError(t, service.Start())

	broadcast.Close()
	service.Stop()
	_, gaps := service.Stats()
	require.Zero(t, gaps)
}

func TestService_InvalidPruneSchedule(t *testing.T) {
	service := NewService(setupTestDB(t), events.NewBroadcast(4), Options{PruneSchedule: "whenever", Logger: quietLogger})
	require.Error(t, service.Start())
	require.False(t, service.Running())
}

func TestRoutes_History(t *testing.T) {
	dbPair := setupTestDB(t)
	service := NewService(dbPair, events.NewBroadcast(4), Options{Logger: quietLogger})
	repo := NewRepository(dbPair)
	ev := testEvent(t, "player_state_changed", "pid=7&state=pause")
	require.NoError(t, repo.Insert(ev))
	require.NoError(t, repo.Insert(testEvent(t, "groups_changed", "")))

	router := chi.NewRouter()
	RegisterRoutes(router, service)
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/events/history?pid=7")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Object string           `json:"object"`
		Data   []map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	require.Equal(t, ev.ID, list.Data[0]["id"])
	require.Equal(t, float64(7), list.Data[0]["pid"])

	single, err := http.Get(server.URL + "/v1/events/history/" + ev.ID)
	require.NoError(t, err)
	defer single.Body.Close()
	require.Equal(t, http.StatusOK, single.StatusCode)

	missing, err := http.Get(server.URL + "/v1/events/history/unknown")
	require.NoError(t, err)
	defer missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)

	bad, err := http.Get(server.URL + "/v1/events/history?pid=abc")
	require.NoError(t, err)
	defer bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
}
