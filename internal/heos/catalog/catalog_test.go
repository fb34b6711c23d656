package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/heos-hub-go/internal/heos/heostest"
	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

var quietLogger = log.New(io.Discard, "", 0)

// browseTree serves browse/browse from a map keyed by "sid" or "sid/cid".
func browseTree(tree map[string][]map[string]any) heostest.HandlerFunc {
	return func(req heostest.Request) []string {
		key := req.Args["sid"]
		if cid, ok := req.Args["cid"]; ok {
			key += "/" + cid
		}
		children, ok := tree[key]
		if !ok {
			return []string{heostest.Response(req.Path, "fail", "eid=2&text=ID Not Valid", nil)}
		}
		return []string{
			heostest.Provisional(req.Path, "sid="+req.Args["sid"]),
			heostest.Response(req.Path, "success", "sid="+req.Args["sid"], children),
		}
	}
}

func newTestSource(t *testing.T, sid int) (*Source, *heostest.Device) {
	t.Helper()
	fake := heostest.NewDevice(t)
	network := heostest.NewNetwork()
	network.Add("10.0.0.3", fake)
	pool := protocol.NewPool(protocol.PoolOptions{
		CommandTimeout: 2 * time.Second,
		Dial:           network.Dial,
		Logger:         quietLogger,
	})
	t.Cleanup(func() { _ = pool.Close() })
	return NewSource(sid, "Music", "10.0.0.3", pool, quietLogger), fake
}

func TestParseNode_ChoosesVariantByIdentifier(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind Kind
		id   string
	}{
		{"track wins over cid", `{"mid":"m1","cid":"c1","name":"Song"}`, KindTrack, "mid:m1"},
		{"container", `{"cid":" c2 ","name":"Albums","container":"yes","playable":"no"}`, KindContainer, "cid:c2"},
		{"source", `{"sid":1024,"name":"NAS","available":"true"}`, KindSource, "sid:1024"},
		{"numeric cid", `{"cid":77,"name":"Folder"}`, KindContainer, "cid:77"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := ParseNode(json.RawMessage(tt.data))
			require.NoError(t, err)
			require.Equal(t, tt.kind, node.Kind())
			require.Equal(t, tt.id, node.ID())
			require.Nil(t, node.Parent())
		})
	}
}

func TestParseNode_RejectsUnknownShape(t *testing.T) {
	_, err := ParseNode(json.RawMessage(`{"name":"mystery"}`))
	var protoErr *protocol.ProtocolError
	require.True(t, errors.As(err, &protoErr))

	_, err = ParseNode(json.RawMessage(`{"sid":null,"cid":null}`))
	require.Error(t, err)

	_, err = ParseNode(json.RawMessage(`[1,2]`))
	require.Error(t, err)
}

func TestParseNode_ContainerFlags(t *testing.T) {
	node, err := ParseNode(json.RawMessage(`{"cid":"c","name":"x"}`))
	require.NoError(t, err)
	container := node.(*Container)
	require.True(t, container.IsContainer, "container defaults to yes")
	require.False(t, container.IsPlayable)

	node, err = ParseNode(json.RawMessage(`{"cid":"c","name":"x","container":"no","playable":"yes"}`))
	require.NoError(t, err)
	container = node.(*Container)
	require.False(t, container.IsContainer)
	require.True(t, container.IsPlayable)
}

func TestContainer_Browse_DepthZero(t *testing.T) {
	source, fake := newTestSource(t, 1024)
	fake.Handle("browse/browse", browseTree(map[string][]map[string]any{
		"1024": {{"cid": "albums", "name": "Albums"}},
		"1024/albums": {
			{"cid": "a1", "name": "Blue"},
			{"cid": "a2", "name": "Court and Spark"},
			{"mid": "t1", "name": "Loose Track"},
		},
	}))

	require.NoError(t, source.Browse(context.Background(), 0))
	albums, ok := source.GetContainer("albums")
	require.True(t, ok)
	require.Empty(t, albums.Children())

	require.NoError(t, albums.Browse(context.Background(), 0))
	children := albums.Children()
	require.Len(t, children, 3)
	for _, child := range children {
		if browser, ok := child.(Browser); ok {
			require.Empty(t, browser.Children())
		}
		require.Same(t, albums, child.Parent())
	}

	last := fake.Requests()[len(fake.Requests())-1]
	require.Equal(t, "heos://browse/browse?sid=1024&cid=albums&range=0,99", last.Line)
}

func TestContainer_SIDComesFromAncestor(t *testing.T) {
	source, fake := newTestSource(t, 1024)
	fake.Handle("browse/browse", browseTree(map[string][]map[string]any{
		"1024":     {{"cid": "top", "name": "Top"}},
		"1024/top": {{"cid": "nested", "name": "Nested"}},
	}))

	require.NoError(t, source.Browse(context.Background(), 1))
	nested, ok := source.GetContainer("nested")
	require.True(t, ok)

	sid, ok := nested.SID()
	require.True(t, ok)
	require.Equal(t, 1024, sid)

	orphan := &Container{CID: "lost"}
	_, ok = orphan.SID()
	require.False(t, ok)
	require.Error(t, orphan.Browse(context.Background(), 0))
}

func TestContainer_Browse_ReplacesChildrenWholesale(t *testing.T) {
	source, fake := newTestSource(t, 1024)
	tree := map[string][]map[string]any{
		"1024": {{"cid": "a", "name": "A"}, {"cid": "b", "name": "B"}},
	}
	fake.Handle("browse/browse", browseTree(tree))
	require.NoError(t, source.Browse(context.Background(), 0))
	first := source.Children()
	require.Len(t, first, 2)

	fake.Handle("browse/browse", browseTree(map[string][]map[string]any{
		"1024": {{"cid": "c", "name": "C"}},
	}))
	require.NoError(t, source.Browse(context.Background(), 0))
	second := source.Children()
	require.Len(t, second, 1)
	require.Equal(t, "cid:c", second[0].ID())

	_, ok := source.GetContainer("a")
	require.False(t, ok)
}

func TestContainer_Browse_RejectedKeepsChildren(t *testing.T) {
	source, fake := newTestSource(t, 1024)
	tree := map[string][]map[string]any{"1024": {{"cid": "a", "name": "A"}}}
	fake.Handle("browse/browse", browseTree(tree))
	require.NoError(t, source.Browse(context.Background(), 0))

	fake.Handle("browse/browse", browseTree(map[string][]map[string]any{}))
	err := source.Browse(context.Background(), 0)
	var rejected *protocol.CommandRejectedError
	require.True(t, errors.As(err, &rejected))
	require.Len(t, source.Children(), 1)
}

func TestSource_Initialize_LocalSourceBrowsesTwoLevels(t *testing.T) {
	source, fake := newTestSource(t, 1024)
	fake.Reply("browse/get_search_criteria", "sid=1024", []map[string]any{
		{"scid": 1, "name": "Artist", "wildcard": "yes", "playable": "no"},
		{"scid": "3", "name": "Track", "wildcard": "no", "playable": "yes", "cid": "TRACKS-"},
	})
	fake.Handle("browse/browse", browseTree(map[string][]map[string]any{
		"1024":         {{"cid": "music", "name": "Music"}},
		"1024/music":   {{"cid": "artists", "name": "Artists"}},
		"1024/artists": {{"cid": "joni", "name": "Joni Mitchell"}, {"mid": "m9", "name": "Loose"}},
		"1024/joni":    {{"mid": "never", "name": "too deep"}},
	}))

	require.NoError(t, source.Initialize(context.Background()))

	criteria := source.SearchCriteria()
	require.Len(t, criteria, 2)
	require.Equal(t, SearchCriteria{SCID: 1, Name: "Artist", Wildcard: true}, criteria[0])
	require.Equal(t, SearchCriteria{SCID: 3, Name: "Track", Playable: true, CID: "TRACKS-"}, criteria[1])

	joni, ok := source.GetContainer("joni")
	require.True(t, ok)
	require.Empty(t, joni.Children(), "depth is exhausted above joni")

	require.Equal(t, []string{
		"browse/get_search_criteria",
		"browse/browse",
		"browse/browse",
		"browse/browse",
	}, fake.Paths())
}

func TestSource_Initialize_StreamingSourceIsNotBrowsed(t *testing.T) {
	source, fake := newTestSource(t, 5)
	fake.Reply("browse/get_search_criteria", "sid=5", []map[string]any{})

	require.NoError(t, source.Initialize(context.Background()))
	require.Equal(t, []string{"browse/get_search_criteria"}, fake.Paths())
	require.Empty(t, source.Children())
}

func TestSource_Refresh(t *testing.T) {
	source, fake := newTestSource(t, 7)
	fake.Reply("browse/get_source_info", "sid=7", map[string]any{"sid": 7, "name": "Radio", "available": "true"})
	fake.Reply("browse/get_search_criteria", "sid=7", []map[string]any{})

	require.False(t, source.IsAvailable())
	require.NoError(t, source.Refresh(context.Background()))
	require.True(t, source.IsAvailable())
}

func TestSource_FindSourceAndGetContainerMissing(t *testing.T) {
	source, fake := newTestSource(t, 1)
	fake.Handle("browse/browse", browseTree(map[string][]map[string]any{
		"1": {{"sid": 1030, "name": "Nested Server"}, {"cid": "x", "name": "X"}},
	}))
	require.NoError(t, source.Browse(context.Background(), 0))

	nested, ok := source.FindSource(1030)
	require.True(t, ok)
	require.Equal(t, "Nested Server", nested.Name)
	require.Same(t, source, nested.Parent())
	require.Equal(t, "10.0.0.3", nested.Host())

	_, ok = source.FindSource(99)
	require.False(t, ok)
	_, ok = source.GetContainer("does-not-exist")
	require.False(t, ok)
}

func TestParseSources(t *testing.T) {
	env, err := protocol.ParseEnvelope([]byte(`{"heos":{"command":"browse/get_music_sources","result":"success","message":""},"payload":[` +
		`{"name":"Pandora","sid":1,"type":"music_service","available":"false","service_username":"me"},` +
		`{"name":"Local Music","sid":1024,"type":"heos_server","available":"true"},` +
		`{"name":"stray","cid":"c"}]}`))
	require.NoError(t, err)

	sources, err := ParseSources(env, "10.0.0.3", nil, quietLogger)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	require.Equal(t, "me", sources[0].ServiceUsername)
	require.False(t, sources[0].IsAvailable())
	require.True(t, sources[1].IsLocal())
	require.Equal(t, "10.0.0.3", sources[1].Host())
}

func TestDescribe(t *testing.T) {
	source, fake := newTestSource(t, 1024)
	fake.Handle("browse/browse", browseTree(map[string][]map[string]any{
		"1024": {{"cid": "a", "name": "A", "playable": "yes"}, {"mid": "m", "name": "Song", "artist": "Joni"}},
	}))
	require.NoError(t, source.Browse(context.Background(), 0))

	described := Describe(source)
	require.Equal(t, "source", described["kind"])
	require.Equal(t, 1024, described["sid"])

	children := described["children"].([]map[string]any)
	require.Len(t, children, 2)
	require.Equal(t, "a", children[0]["cid"])
	require.Equal(t, 1024, children[0]["sid"])
	require.Equal(t, true, children[0]["is_playable"])
	require.Equal(t, "Joni", children[1]["artist"])

	_, err := json.Marshal(described)
	require.NoError(t, err)
}
