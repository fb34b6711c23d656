package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatEvent(t *testing.T) {
	ev := testEvent(t, "player_volume_changed", "pid=1234&level=78&mute=off")

	block := FormatEvent(ev)
	require.True(t, strings.HasPrefix(block, "Event: player_volume_changed\n"))
	require.True(t, strings.HasSuffix(block, "}\n\n"))

	lines := strings.Split(strings.TrimSuffix(block, "\n\n"), "\n")
	require.Greater(t, len(lines), 3)

	var body strings.Builder
	for _, line := range lines[1:] {
		require.True(t, strings.HasPrefix(line, "data: "), "line %q", line)
		body.WriteString(strings.TrimPrefix(line, "data: "))
		body.WriteByte('\n')
	}

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(body.String()), &record))
	require.Equal(t, "player_volume_changed", record["event"])
	require.Equal(t, "event/player_volume_changed", record["command"])
	require.Equal(t, "pid=1234&level=78&mute=off", record["message"])

	heos := record["heos"].(map[string]any)["heos"].(map[string]any)
	require.Equal(t, "event/player_volume_changed", heos["command"])
}

func TestNewEvent(t *testing.T) {
	ev := testEvent(t, "player_state_changed", "pid=-55&state=pause")

	require.NotEmpty(t, ev.ID)
	require.Equal(t, "10.0.0.1", ev.Host)
	require.Equal(t, "player_state_changed", ev.Name)
	pid, ok := ev.PID()
	require.True(t, ok)
	require.Equal(t, -55, pid)

	_, ok = testEvent(t, "sources_changed", "").PID()
	require.False(t, ok)
	require.NotEqual(t, ev.ID, testEvent(t, "player_state_changed", "pid=-55&state=pause").ID)
}
