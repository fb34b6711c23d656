package player

import (
	"context"
	"strings"
	"time"

	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

// Sender issues one command to a host and returns the final response.
// *protocol.Pool implements it.
type Sender interface {
	Send(ctx context.Context, host string, cmd protocol.Command) (protocol.Envelope, error)
}

// PlayState is the transport state of a player.
type PlayState string

const (
	PlayStatePlay  PlayState = "play"
	PlayStatePause PlayState = "pause"
	PlayStateStop  PlayState = "stop"
)

// ParsePlayState accepts only the three tokens the CLI defines.
func ParsePlayState(value string) (PlayState, error) {
	switch state := PlayState(strings.TrimSpace(value)); state {
	case PlayStatePlay, PlayStatePause, PlayStateStop:
		return state, nil
	default:
		return "", &protocol.ValidationError{Field: "state", Value: value, Reason: "must be play, pause or stop"}
	}
}

// RepeatMode is the repeat setting of a player queue.
type RepeatMode string

const (
	RepeatAll RepeatMode = "on_all"
	RepeatOne RepeatMode = "on_one"
	RepeatOff RepeatMode = "off"
)

func ParseRepeatMode(value string) (RepeatMode, error) {
	switch mode := RepeatMode(strings.TrimSpace(value)); mode {
	case RepeatAll, RepeatOne, RepeatOff:
		return mode, nil
	default:
		return "", &protocol.ParseError{Field: "repeat", Value: value}
	}
}

// ShuffleMode is the shuffle setting of a player queue.
type ShuffleMode string

const (
	ShuffleOn  ShuffleMode = "on"
	ShuffleOff ShuffleMode = "off"
)

func ParseShuffleMode(value string) (ShuffleMode, error) {
	switch mode := ShuffleMode(strings.TrimSpace(value)); mode {
	case ShuffleOn, ShuffleOff:
		return mode, nil
	default:
		return "", &protocol.ParseError{Field: "shuffle", Value: value}
	}
}

const (
	MinVolume = 0
	MaxVolume = 100

	// DefaultVolumeStep is used by VolumeUp/VolumeDown when no step is given.
	DefaultVolumeStep = 2
)

// ClampVolume forces level into [MinVolume, MaxVolume].
func ClampVolume(level int) int {
	if level < MinVolume {
		return MinVolume
	}
	if level > MaxVolume {
		return MaxVolume
	}
	return level
}

// Info is the descriptive part of a player as reported by player/get_players.
type Info struct {
	PID     int
	Name    string
	Model   string
	Version string
	Host    string
	Network string
	Serial  string
}

// playerEntry is one element of the get_players payload.
type playerEntry struct {
	PID     protocol.FlexString `json:"pid"`
	Name    string              `json:"name"`
	Model   string              `json:"model"`
	Version string              `json:"version"`
	IP      string              `json:"ip"`
	Network string              `json:"network"`
	Serial  string              `json:"serial"`
}

// ParsePlayers decodes a get_players response. Entries without an "ip"
// field are attributed to fallbackHost, the host that answered.
func ParsePlayers(env protocol.Envelope, fallbackHost string) ([]Info, error) {
	if err := env.Err(); err != nil {
		return nil, err
	}
	var entries []playerEntry
	if err := env.DecodePayload(&entries); err != nil {
		return nil, &protocol.ProtocolError{Host: fallbackHost, Reason: "malformed get_players payload: " + err.Error(), Raw: env.Raw}
	}

	players := make([]Info, 0, len(entries))
	for _, entry := range entries {
		pid, err := entry.PID.Int()
		if err != nil {
			return nil, &protocol.ParseError{Field: "pid", Value: entry.PID.String(), Err: err}
		}
		host := entry.IP
		if host == "" {
			host = fallbackHost
		}
		players = append(players, Info{
			PID:     pid,
			Name:    entry.Name,
			Model:   entry.Model,
			Version: entry.Version,
			Host:    host,
			Network: entry.Network,
			Serial:  entry.Serial,
		})
	}
	return players, nil
}

// Snapshot is an immutable copy of a device's state with its JSON shape
// spelled out field by field.
type Snapshot struct {
	PID               int            `json:"pid"`
	Name              string         `json:"name"`
	Model             string         `json:"model"`
	Version           string         `json:"version"`
	Host              string         `json:"ip"`
	Network           string         `json:"network"`
	Serial            string         `json:"serial"`
	PlayState         PlayState      `json:"play_state"`
	Volume            int            `json:"volume"`
	Muted             bool           `json:"muted"`
	RepeatMode        RepeatMode     `json:"repeat_mode"`
	ShuffleMode       ShuffleMode    `json:"shuffle_mode"`
	NowPlaying        map[string]any `json:"now_playing"`
	CurPos            int            `json:"cur_pos"`
	Duration          int            `json:"duration"`
	Heartbeats        int            `json:"number_of_pings"`
	HeartbeatFailures int            `json:"heartbeat_failures"`
	HeartbeatMissed   int            `json:"heartbeat_missed"`
	LastHeartbeat     *time.Time     `json:"last_heartbeat,omitempty"`
}
