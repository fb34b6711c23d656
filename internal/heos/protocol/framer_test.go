package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, f *Framer) ([]Envelope, []error) {
	t.Helper()
	var envs []Envelope
	var errs []error
	for i := 0; i < 100; i++ {
		env, ok, err := f.Next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			return envs, errs
		}
		envs = append(envs, env)
	}
	t.Fatal("framer did not settle")
	return nil, nil
}

func TestFramer_SingleObject(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte(`{"heos":{"command":"player/get_players","result":"success","message":""},"payload":[{"pid":1}]}` + "\r\n"))

	envs, errs := drain(t, f)
	require.Empty(t, errs)
	require.Len(t, envs, 1)
	require.Equal(t, "player/get_players", envs[0].Command)
	require.True(t, envs[0].Succeeded())
	require.JSONEq(t, `[{"pid":1}]`, string(envs[0].Payload))
	require.Zero(t, f.Buffered())
}

func TestFramer_ObjectSplitAcrossFeeds(t *testing.T) {
	f := NewFramer()
	full := `{"heos":{"command":"player/get_volume","result":"success","message":"pid=1&level=20"}}`

	f.Feed([]byte(full[:17]))
	envs, errs := drain(t, f)
	require.Empty(t, errs)
	require.Empty(t, envs)

	f.Feed([]byte(full[17:40]))
	envs, _ = drain(t, f)
	require.Empty(t, envs)

	f.Feed([]byte(full[40:]))
	envs, errs = drain(t, f)
	require.Empty(t, errs)
	require.Len(t, envs, 1)
	require.Equal(t, "20", envs[0].Message.Get("level"))
}

func TestFramer_MultipleObjectsInOneFeed(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte(
		`{"heos":{"command":"event/player_state_changed","message":"pid=1&state=play"}}` +
			`{"heos":{"command":"event/player_volume_changed","message":"pid=1&level=5&mute=off"}}` + "\r\n",
	))

	envs, errs := drain(t, f)
	require.Empty(t, errs)
	require.Len(t, envs, 2)
	require.Equal(t, "player_state_changed", envs[0].EventName())
	require.Equal(t, "player_volume_changed", envs[1].EventName())
}

func TestFramer_BracesInsideStrings(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte(`{"heos":{"command":"browse/browse","result":"success","message":"sid=1"},"payload":[{"name":"weird } \"name\" {","cid":"a"}]}`))

	envs, errs := drain(t, f)
	require.Empty(t, errs)
	require.Len(t, envs, 1)
	require.Contains(t, string(envs[0].Payload), `weird } \"name\" {`)
}

func TestFramer_DiscardsLeadingGarbage(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte("pid=1&level=3\r\n" + `{"heos":{"command":"system/heart_beat","result":"success","message":""}}`))

	envs, errs := drain(t, f)
	require.Len(t, errs, 1)
	var protoErr *ProtocolError
	require.True(t, errors.As(errs[0], &protoErr))
	require.Equal(t, "pid=1&level=3\r\n", string(protoErr.Raw))
	require.Len(t, envs, 1)
	require.Equal(t, "system/heart_beat", envs[0].Command)
}

func TestFramer_WhitespaceIsSilent(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte("\r\n\r\n  "))

	envs, errs := drain(t, f)
	require.Empty(t, errs)
	require.Empty(t, envs)
	require.Zero(t, f.Buffered())
}

func TestFramer_ObjectWithoutHeaderIsReportedAndSkipped(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte(`{"foo":1}{"heos":{"command":"system/heart_beat","result":"success","message":""}}`))

	envs, errs := drain(t, f)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "missing heos.command")
	require.Len(t, envs, 1)
}

func TestFramer_OversizedFrameResets(t *testing.T) {
	f := NewFramer()
	f.maxSize = 32
	f.Feed([]byte(`{"heos":{"command":"x","message":"` + string(make([]byte, 64)) + ``))

	_, ok, err := f.Next()
	require.False(t, ok)
	require.Error(t, err)
	require.Zero(t, f.Buffered())
}

func TestEnvelope_ProvisionalAndFailure(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"heos":{"command":"browse/browse","result":"success","message":"command under process&sid=1"}}`))
	require.NoError(t, err)
	require.True(t, env.IsProvisional())
	require.False(t, env.IsEvent())

	env, err = ParseEnvelope([]byte(`{"heos":{"command":"player/set_volume","result":"fail","message":"eid=9&text=Parameter out of range"}}`))
	require.NoError(t, err)
	require.False(t, env.Succeeded())

	var rejected *CommandRejectedError
	require.True(t, errors.As(env.Err(), &rejected))
	require.Equal(t, "9", rejected.Message.Get("eid"))
	require.Contains(t, rejected.Error(), "Parameter out of range")
}

func TestEnvelope_NullPayloadIsAbsent(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"heos":{"command":"player/get_players","result":"success","message":""},"payload":null}`))
	require.NoError(t, err)
	require.False(t, env.HasPayload())

	var out []map[string]any
	require.NoError(t, env.DecodePayload(&out))
	require.Nil(t, out)
}

func TestFlexString(t *testing.T) {
	var target struct {
		A FlexString `json:"a"`
		B FlexString `json:"b"`
		C FlexString `json:"c"`
	}
	env, err := ParseEnvelope([]byte(`{"heos":{"command":"x","result":"success","message":""},"payload":{"a":"12","b":-345,"c":null}}`))
	require.NoError(t, err)
	require.NoError(t, env.DecodePayload(&target))

	a, err := target.A.Int()
	require.NoError(t, err)
	require.Equal(t, 12, a)

	b, err := target.B.Int()
	require.NoError(t, err)
	require.Equal(t, -345, b)
	require.Equal(t, "", target.C.String())
}
