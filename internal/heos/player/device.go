// Package player holds the live state of one physical player and the
// commands that change it.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

// Device is the mutable record for one player. State changes come from
// command methods (after a success response) and from Apply* methods
// driven by the event watcher.
type Device struct {
	info   Info
	sender Sender
	logger *log.Logger

	mu                sync.RWMutex
	playState         PlayState
	volume            int
	muted             bool
	repeat            RepeatMode
	shuffle           ShuffleMode
	nowPlaying        map[string]any
	curPos            int
	duration          int
	heartbeats        int
	heartbeatFailures int
	heartbeatMissed   int
	lastHeartbeat     time.Time

	heartbeatMu     sync.Mutex
	heartbeatCron   *cron.Cron
	heartbeatCancel context.CancelFunc
}

// NewDevice creates a device in the stopped state. No I/O is performed.
func NewDevice(info Info, sender Sender, logger *log.Logger) *Device {
	if logger == nil {
		logger = log.Default()
	}
	return &Device{
		info:       info,
		sender:     sender,
		logger:     logger,
		playState:  PlayStateStop,
		repeat:     RepeatOff,
		shuffle:    ShuffleOff,
		nowPlaying: map[string]any{},
	}
}

func (d *Device) PID() int     { return d.info.PID }
func (d *Device) Name() string { return d.info.Name }
func (d *Device) Host() string { return d.info.Host }
func (d *Device) Info() Info   { return d.info }

// Snapshot copies the current state.
func (d *Device) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	nowPlaying := make(map[string]any, len(d.nowPlaying))
	for k, v := range d.nowPlaying {
		nowPlaying[k] = v
	}
	snapshot := Snapshot{
		PID:               d.info.PID,
		Name:              d.info.Name,
		Model:             d.info.Model,
		Version:           d.info.Version,
		Host:              d.info.Host,
		Network:           d.info.Network,
		Serial:            d.info.Serial,
		PlayState:         d.playState,
		Volume:            d.volume,
		Muted:             d.muted,
		RepeatMode:        d.repeat,
		ShuffleMode:       d.shuffle,
		NowPlaying:        nowPlaying,
		CurPos:            d.curPos,
		Duration:          d.duration,
		Heartbeats:        d.heartbeats,
		HeartbeatFailures: d.heartbeatFailures,
		HeartbeatMissed:   d.heartbeatMissed,
	}
	if !d.lastHeartbeat.IsZero() {
		last := d.lastHeartbeat
		snapshot.LastHeartbeat = &last
	}
	return snapshot
}

func (d *Device) PlayState() PlayState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.playState
}

func (d *Device) Volume() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.volume
}

func (d *Device) Muted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.muted
}

// ==========================================================================
// Commands
// ==========================================================================

// SetPlayState validates state and sends it. Returns true only when the
// device accepted the command.
func (d *Device) SetPlayState(ctx context.Context, state string) bool {
	parsed, err := ParsePlayState(state)
	if err != nil {
		d.logger.Printf("HEOS: %s: %v", d.info.Name, err)
		return false
	}
	if _, ok := d.exec(ctx, protocol.SetPlayState(d.info.PID, string(parsed))); !ok {
		return false
	}
	d.mu.Lock()
	d.playState = parsed
	d.mu.Unlock()
	return true
}

// SetVolume sends an absolute volume in [0, 100]. Out-of-range levels are
// refused without touching the network.
func (d *Device) SetVolume(ctx context.Context, level int) bool {
	if level < MinVolume || level > MaxVolume {
		d.logger.Printf("HEOS: %s: %v", d.info.Name, &protocol.ValidationError{
			Field: "level", Value: strconv.Itoa(level), Reason: "must be between 0 and 100",
		})
		return false
	}
	if _, ok := d.exec(ctx, protocol.SetVolume(d.info.PID, level)); !ok {
		return false
	}
	d.mu.Lock()
	d.volume = level
	d.mu.Unlock()
	return true
}

// VolumeUp raises the volume by step, clamped to the valid range.
func (d *Device) VolumeUp(ctx context.Context, step int) bool {
	if step <= 0 {
		step = DefaultVolumeStep
	}
	return d.SetVolume(ctx, ClampVolume(d.Volume()+step))
}

// VolumeDown lowers the volume by step, clamped to the valid range.
func (d *Device) VolumeDown(ctx context.Context, step int) bool {
	if step <= 0 {
		step = DefaultVolumeStep
	}
	return d.SetVolume(ctx, ClampVolume(d.Volume()-step))
}

func (d *Device) SetMute(ctx context.Context, muted bool) bool {
	if _, ok := d.exec(ctx, protocol.SetMute(d.info.PID, muted)); !ok {
		return false
	}
	d.mu.Lock()
	d.muted = muted
	d.mu.Unlock()
	return true
}

func (d *Device) NextTrack(ctx context.Context) bool {
	_, ok := d.exec(ctx, protocol.PlayNext(d.info.PID))
	return ok
}

func (d *Device) PreviousTrack(ctx context.Context) bool {
	_, ok := d.exec(ctx, protocol.PlayPrevious(d.info.PID))
	return ok
}

// exec sends cmd and reports whether it succeeded. Transport errors and
// rejections are logged, never returned.
func (d *Device) exec(ctx context.Context, cmd protocol.Command) (protocol.Envelope, bool) {
	env, err := d.sender.Send(ctx, d.info.Host, cmd)
	if err != nil {
		d.logger.Printf("HEOS: %s: %s failed: %v", d.info.Name, cmd.Path(), err)
		return protocol.Envelope{}, false
	}
	if err := env.Err(); err != nil {
		d.logger.Printf("HEOS: %s: %v", d.info.Name, err)
		return env, false
	}
	return env, true
}

// ==========================================================================
// Refresh
// ==========================================================================

// Initialize reads play state, volume, mute, play mode and now playing from
// the device. A transport error aborts and is returned; a rejected or
// unparseable individual query is logged and skipped.
func (d *Device) Initialize(ctx context.Context) error {
	steps := []struct {
		cmd   protocol.Command
		apply func(env protocol.Envelope) error
	}{
		{protocol.GetPlayState(d.info.PID), func(env protocol.Envelope) error {
			return d.ApplyPlayStateChanged(env.Message.Get("state"))
		}},
		{protocol.GetVolume(d.info.PID), func(env protocol.Envelope) error {
			return d.applyVolume(env.Message.Get("level"))
		}},
		{protocol.GetMute(d.info.PID), func(env protocol.Envelope) error {
			return d.applyMute(env.Message.Get("state"))
		}},
		{protocol.GetPlayMode(d.info.PID), func(env protocol.Envelope) error {
			if err := d.ApplyRepeatModeChanged(env.Message.Get("repeat")); err != nil {
				return err
			}
			return d.ApplyShuffleModeChanged(env.Message.Get("shuffle"))
		}},
		{protocol.GetNowPlayingMedia(d.info.PID), func(env protocol.Envelope) error {
			return d.ApplyNowPlayingChanged(env.Payload)
		}},
	}

	for _, step := range steps {
		env, err := d.sender.Send(ctx, d.info.Host, step.cmd)
		if err != nil {
			var transportErr *protocol.TransportError
			if errors.As(err, &transportErr) {
				return err
			}
			return &protocol.TransportError{Host: d.info.Host, Op: step.cmd.Path(), Err: err}
		}
		if err := env.Err(); err != nil {
			d.logger.Printf("HEOS: %s: %v", d.info.Name, err)
			continue
		}
		if err := step.apply(env); err != nil {
			d.logger.Printf("HEOS: %s: %s: %v", d.info.Name, step.cmd.Path(), err)
		}
	}
	return nil
}

// FetchNowPlaying queries the current media without changing local state.
func (d *Device) FetchNowPlaying(ctx context.Context) (json.RawMessage, error) {
	env, err := d.sender.Send(ctx, d.info.Host, protocol.GetNowPlayingMedia(d.info.PID))
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	return env.Payload, nil
}

// ==========================================================================
// Passive updates (no I/O)
// ==========================================================================

func (d *Device) ApplyPlayStateChanged(state string) error {
	parsed, err := ParsePlayState(state)
	if err != nil {
		return &protocol.ParseError{Field: "state", Value: state, Err: err}
	}
	d.mu.Lock()
	d.playState = parsed
	d.mu.Unlock()
	return nil
}

// ApplyVolumeChanged parses level and mute as sent in a volume event. Both
// must parse before either is applied. The level is clamped to [0, 100].
func (d *Device) ApplyVolumeChanged(level, mute string) error {
	parsedLevel, err := protocol.ParseInt("level", level)
	if err != nil {
		return err
	}
	parsedMute, err := protocol.ParseOnOff("mute", mute)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.volume = ClampVolume(parsedLevel)
	d.muted = parsedMute
	d.mu.Unlock()
	return nil
}

func (d *Device) applyVolume(level string) error {
	parsed, err := protocol.ParseInt("level", level)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.volume = ClampVolume(parsed)
	d.mu.Unlock()
	return nil
}

func (d *Device) applyMute(state string) error {
	muted, err := protocol.ParseOnOff("mute", state)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.muted = muted
	d.mu.Unlock()
	return nil
}

// ApplyNowPlayingChanged replaces the now-playing map with payload, a JSON
// object. An empty payload clears it. Progress is reset for the new media.
func (d *Device) ApplyNowPlayingChanged(payload json.RawMessage) error {
	media := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &media); err != nil {
			return &protocol.ParseError{Field: "now_playing", Value: string(payload), Err: err}
		}
		if media == nil {
			media = map[string]any{}
		}
	}
	d.mu.Lock()
	d.nowPlaying = media
	d.curPos = 0
	d.duration = 0
	d.mu.Unlock()
	return nil
}

// ApplyProgress records the playback position and media length in
// milliseconds.
func (d *Device) ApplyProgress(pos, duration string) error {
	parsedPos, err := protocol.ParseInt("cur_pos", pos)
	if err != nil {
		return err
	}
	parsedDuration, err := protocol.ParseInt("duration", duration)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.curPos = parsedPos
	d.duration = parsedDuration
	d.mu.Unlock()
	return nil
}

func (d *Device) ApplyRepeatModeChanged(mode string) error {
	parsed, err := ParseRepeatMode(mode)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.repeat = parsed
	d.mu.Unlock()
	return nil
}

func (d *Device) ApplyShuffleModeChanged(mode string) error {
	parsed, err := ParseShuffleMode(mode)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.shuffle = parsed
	d.mu.Unlock()
	return nil
}
