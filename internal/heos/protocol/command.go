package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Scheme prefixes every CLI command.
const Scheme = "heos://"

// Arg is a single key/value command argument. Order is preserved on the wire.
type Arg struct {
	Key   string
	Value string
}

// Command is one CLI request: heos://<group>/<action>?<k>=<v>&...
type Command struct {
	Group  string
	Action string
	Args   []Arg
}

// NewCommand builds a command from alternating key/value strings.
func NewCommand(group, action string, kv ...string) Command {
	cmd := Command{Group: group, Action: action}
	for i := 0; i+1 < len(kv); i += 2 {
		cmd.Args = append(cmd.Args, Arg{Key: kv[i], Value: kv[i+1]})
	}
	return cmd
}

// Path returns "<group>/<action>", which is what responses echo in heos.command.
func (c Command) Path() string {
	return c.Group + "/" + c.Action
}

// With returns a copy of the command with an extra argument appended.
func (c Command) With(key, value string) Command {
	args := make([]Arg, len(c.Args), len(c.Args)+1)
	copy(args, c.Args)
	c.Args = append(args, Arg{Key: key, Value: value})
	return c
}

func (c Command) String() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString(c.Path())
	for i, arg := range c.Args {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(arg.Key)
		b.WriteByte('=')
		b.WriteString(escapeValue(arg.Value))
	}
	return b.String()
}

// Line returns the command terminated for the wire.
func (c Command) Line() []byte {
	return []byte(c.String() + "\r\n")
}

// ParseCommand reads a command line such as heos://player/get_volume?pid=1.
// The scheme is optional. Argument values are unescaped.
func ParseCommand(line string) (Command, error) {
	rest := strings.TrimPrefix(strings.TrimSpace(line), Scheme)
	path, query, _ := strings.Cut(rest, "?")
	group, action, ok := strings.Cut(path, "/")
	if !ok || group == "" || action == "" || strings.Contains(action, "/") {
		return Command{}, fmt.Errorf("command %q: want <group>/<action>", line)
	}
	cmd := Command{Group: group, Action: action}
	msg := ParseMessage(query)
	for _, key := range msg.Keys() {
		cmd.Args = append(cmd.Args, Arg{Key: key, Value: msg.Get(key)})
	}
	return cmd, nil
}

var valueEscaper = strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D")

func escapeValue(value string) string {
	return valueEscaper.Replace(value)
}

// System commands

func HeartBeat() Command { return NewCommand("system", "heart_beat") }

func RegisterForChangeEvents(enable bool) Command {
	return NewCommand("system", "register_for_change_events", "enable", OnOff(enable))
}

// Player commands

func GetPlayers() Command { return NewCommand("player", "get_players") }

func GetPlayState(pid int) Command {
	return NewCommand("player", "get_play_state", "pid", strconv.Itoa(pid))
}

func SetPlayState(pid int, state string) Command {
	return NewCommand("player", "set_play_state", "pid", strconv.Itoa(pid), "state", state)
}

func GetVolume(pid int) Command {
	return NewCommand("player", "get_volume", "pid", strconv.Itoa(pid))
}

func SetVolume(pid, level int) Command {
	return NewCommand("player", "set_volume", "pid", strconv.Itoa(pid), "level", strconv.Itoa(level))
}

func GetMute(pid int) Command {
	return NewCommand("player", "get_mute", "pid", strconv.Itoa(pid))
}

func SetMute(pid int, muted bool) Command {
	return NewCommand("player", "set_mute", "pid", strconv.Itoa(pid), "state", OnOff(muted))
}

func GetPlayMode(pid int) Command {
	return NewCommand("player", "get_play_mode", "pid", strconv.Itoa(pid))
}

func GetNowPlayingMedia(pid int) Command {
	return NewCommand("player", "get_now_playing_media", "pid", strconv.Itoa(pid))
}

func PlayNext(pid int) Command {
	return NewCommand("player", "play_next", "pid", strconv.Itoa(pid))
}

func PlayPrevious(pid int) Command {
	return NewCommand("player", "play_previous", "pid", strconv.Itoa(pid))
}

// Browse commands

func GetMusicSources() Command { return NewCommand("browse", "get_music_sources") }

func GetSourceInfo(sid int) Command {
	return NewCommand("browse", "get_source_info", "sid", strconv.Itoa(sid))
}

func GetSearchCriteria(sid int) Command {
	return NewCommand("browse", "get_search_criteria", "sid", strconv.Itoa(sid))
}

func BrowseSource(sid int) Command {
	return NewCommand("browse", "browse", "sid", strconv.Itoa(sid))
}

// BrowseContainer requests entries [start, end] of a container. The range is
// inclusive on both ends.
func BrowseContainer(sid int, cid string, start, end int) Command {
	return NewCommand("browse", "browse",
		"sid", strconv.Itoa(sid),
		"cid", cid,
		"range", strconv.Itoa(start)+","+strconv.Itoa(end),
	)
}
