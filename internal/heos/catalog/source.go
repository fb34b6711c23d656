package catalog

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"

	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

// SearchCriteria describes one way a source can be searched.
type SearchCriteria struct {
	SCID     int
	Name     string
	Wildcard bool
	Playable bool
	CID      string
}

type criteriaEntry struct {
	SCID     protocol.FlexString `json:"scid"`
	Name     string              `json:"name"`
	Wildcard string              `json:"wildcard"`
	Playable string              `json:"playable"`
	CID      protocol.FlexString `json:"cid"`
}

// Source is a music source such as a local media server or a streaming
// service. It is the root of a catalog tree.
type Source struct {
	SID             int
	Name            string
	Type            string
	ImageURL        string
	Available       bool
	ServiceUsername string

	parent Node
	client *client
	branch

	infoMu   sync.RWMutex
	criteria []SearchCriteria
}

// NewSource builds a root source bound to host.
func NewSource(sid int, name string, host string, sender Sender, logger *log.Logger) *Source {
	if logger == nil {
		logger = log.Default()
	}
	return &Source{
		SID:    sid,
		Name:   name,
		client: &client{host: host, sender: sender, logger: logger},
	}
}

// ParseSources decodes a get_music_sources response into root sources bound
// to host. Entries that are not sources are skipped.
func ParseSources(env protocol.Envelope, host string, sender Sender, logger *log.Logger) ([]*Source, error) {
	if err := env.Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	var items []json.RawMessage
	if err := env.DecodePayload(&items); err != nil {
		return nil, &protocol.ProtocolError{Host: host, Reason: "get_music_sources payload is not a list", Raw: env.Raw}
	}

	c := &client{host: host, sender: sender, logger: logger}
	sources := make([]*Source, 0, len(items))
	for _, item := range items {
		node, err := ParseNode(item)
		if err != nil {
			logger.Printf("CATALOG: %s: skipping source entry: %v", host, err)
			continue
		}
		source, ok := node.(*Source)
		if !ok {
			logger.Printf("CATALOG: %s: skipping non-source %s in source list", host, node.ID())
			continue
		}
		source.client = c
		sources = append(sources, source)
	}
	return sources, nil
}

func (s *Source) Kind() Kind          { return KindSource }
func (s *Source) ID() string          { return "sid:" + strconv.Itoa(s.SID) }
func (s *Source) DisplayName() string { return s.Name }
func (s *Source) Parent() Node        { return s.parent }
func (s *Source) sealed()             {}

// Host is the device the source is browsed through.
func (s *Source) Host() string { return s.client.host }

// IsAvailable reports the last known availability.
func (s *Source) IsAvailable() bool {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.Available
}

// SearchCriteria returns a copy of the last fetched criteria.
func (s *Source) SearchCriteria() []SearchCriteria {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	out := make([]SearchCriteria, len(s.criteria))
	copy(out, s.criteria)
	return out
}

// IsLocal reports whether the source is local media, which is browsed
// eagerly by Initialize.
func (s *Source) IsLocal() bool {
	return s.SID > LocalSourceThreshold
}

// Initialize fetches the search criteria and, for local sources, browses
// InitialBrowseDepth levels below the source.
func (s *Source) Initialize(ctx context.Context) error {
	if err := s.FetchSearchCriteria(ctx); err != nil {
		return err
	}
	if s.IsLocal() {
		return s.Browse(ctx, InitialBrowseDepth)
	}
	return nil
}

// Refresh re-reads availability and then initializes again.
func (s *Source) Refresh(ctx context.Context) error {
	env, err := s.client.sender.Send(ctx, s.client.host, protocol.GetSourceInfo(s.SID))
	if err != nil {
		return err
	}
	if env.Succeeded() {
		if available, ok := parseAvailability(env.Payload); ok {
			s.infoMu.Lock()
			s.Available = available
			s.infoMu.Unlock()
		}
	} else {
		s.client.logger.Printf("CATALOG: %s: %v", s.client.host, env.Err())
	}
	return s.Initialize(ctx)
}

// parseAvailability accepts the source info either as an object or as a
// single-element list.
func parseAvailability(payload json.RawMessage) (bool, bool) {
	var one entry
	if err := json.Unmarshal(payload, &one); err == nil && one.Available != "" {
		return one.Available == "true", true
	}
	var many []entry
	if err := json.Unmarshal(payload, &many); err == nil && len(many) > 0 && many[0].Available != "" {
		return many[0].Available == "true", true
	}
	return false, false
}

// FetchSearchCriteria replaces the search criteria with the device's list.
// A rejection keeps the previous list.
func (s *Source) FetchSearchCriteria(ctx context.Context) error {
	env, err := s.client.sender.Send(ctx, s.client.host, protocol.GetSearchCriteria(s.SID))
	if err != nil {
		return err
	}
	if err := env.Err(); err != nil {
		s.client.logger.Printf("CATALOG: %s: sid %d: %v", s.client.host, s.SID, err)
		return nil
	}

	var entries []criteriaEntry
	if err := env.DecodePayload(&entries); err != nil {
		return &protocol.ProtocolError{Host: s.client.host, Reason: "malformed search criteria", Raw: env.Raw}
	}
	criteria := make([]SearchCriteria, 0, len(entries))
	for _, e := range entries {
		scid, err := e.SCID.Int()
		if err != nil && e.SCID != "" {
			return &protocol.ParseError{Field: "scid", Value: e.SCID.String(), Err: err}
		}
		criteria = append(criteria, SearchCriteria{
			SCID:     scid,
			Name:     e.Name,
			Wildcard: yes(e.Wildcard),
			Playable: yes(e.Playable),
			CID:      e.CID.String(),
		})
	}

	s.infoMu.Lock()
	s.criteria = criteria
	s.infoMu.Unlock()
	return nil
}

// Browse lists the source's top level, replacing the current children.
func (s *Source) Browse(ctx context.Context, depth int) error {
	return browse(ctx, s.client, s, &s.branch, protocol.BrowseSource(s.SID), depth)
}

// GetContainer finds a container anywhere below the source.
func (s *Source) GetContainer(cid string) (*Container, bool) {
	return findContainer(s.Children(), cid)
}

// FindSource returns s or a nested source with the given sid.
func (s *Source) FindSource(sid int) (*Source, bool) {
	if s.SID == sid {
		return s, true
	}
	for _, child := range s.Children() {
		if nested, ok := child.(*Source); ok {
			if found, ok := nested.FindSource(sid); ok {
				return found, true
			}
		}
	}
	return nil, false
}
