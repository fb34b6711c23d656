package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/heos-hub-go/internal/heos/heostest"
	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

func newTestConsole(t *testing.T) (*console, *heostest.Device, *bytes.Buffer) {
	t.Helper()
	fake := heostest.NewDevice(t)
	network := heostest.NewNetwork()
	network.Add("10.0.0.1", fake)
	pool := protocol.NewPool(protocol.PoolOptions{
		Dial:           network.Dial,
		CommandTimeout: 2 * time.Second,
		Logger:         log.New(io.Discard, "", 0),
	})
	t.Cleanup(func() { _ = pool.Close() })

	var out bytes.Buffer
	return &console{sender: pool, host: "10.0.0.1", timeout: 2 * time.Second, out: &out}, fake, &out
}

func TestParseInput(t *testing.T) {
	cmd, err := parseInput("player/get_volume pid=-1234")
	require.NoError(t, err)
	require.Equal(t, "heos://player/get_volume?pid=-1234", cmd.String())

	cmd, err = parseInput("heos://browse/browse?sid=1024")
	require.NoError(t, err)
	require.Equal(t, "browse/browse", cmd.Path())

	_, err = parseInput("player/get_volume pid")
	require.Error(t, err)
	_, err = parseInput("get_players")
	require.Error(t, err)
}

func TestConsole_Execute_SendsAndPrints(t *testing.T) {
	c, fake, out := newTestConsole(t)
	fake.Reply("player/get_players", "", []map[string]any{{"pid": 55, "name": "Zone A"}})

	require.False(t, c.Execute(context.Background(), "player/get_players"))
	require.Contains(t, out.String(), `"command": "player/get_players"`)
	require.Contains(t, out.String(), `"name": "Zone A"`)
	require.Equal(t, []string{"player/get_players"}, fake.Paths())
}

func TestConsole_Execute_ConsoleCommands(t *testing.T) {
	c, fake, out := newTestConsole(t)

	require.False(t, c.Execute(context.Background(), ".help"))
	require.Contains(t, out.String(), ".quit")

	require.False(t, c.Execute(context.Background(), ".host 10.0.0.99"))
	require.Equal(t, "10.0.0.99", c.host)

	out.Reset()
	require.False(t, c.Execute(context.Background(), "system/heart_beat"))
	require.Contains(t, out.String(), "error:")
	require.Empty(t, fake.Paths())

	require.False(t, c.Execute(context.Background(), "# comment"))
	require.False(t, c.Execute(context.Background(), ".nope"))
	require.True(t, c.Execute(context.Background(), ".quit"))
}

func TestConsole_Run_StopsAtEOF(t *testing.T) {
	c, fake, out := newTestConsole(t)
	fake.Reply("system/heart_beat", "", nil)

	editor := newLineEditor(strings.NewReader("system/heart_beat\n\nsystem/heart_beat\n"), out)
	require.False(t, editor.Interactive())
	require.NoError(t, c.Run(context.Background(), editor.ReadLine))
	require.Equal(t, []string{"system/heart_beat", "system/heart_beat"}, fake.Paths())
}

func TestConsole_Run_StopsAtQuit(t *testing.T) {
	c, fake, out := newTestConsole(t)

	editor := newLineEditor(strings.NewReader(".quit\nsystem/heart_beat\n"), out)
	require.NoError(t, c.Run(context.Background(), editor.ReadLine))
	require.Empty(t, fake.Paths())
}
