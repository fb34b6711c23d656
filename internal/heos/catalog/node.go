// Package catalog models music sources and the containers and tracks found
// by browsing them.
package catalog

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

const (
	// LocalSourceThreshold separates local media sources (sid above it) from
	// streaming services. Only local sources are browsed eagerly.
	LocalSourceThreshold = 1000

	// InitialBrowseDepth is the recursion depth used by Source.Initialize.
	InitialBrowseDepth = 2

	// BrowsePageSize is the number of entries requested per container. Only
	// the first page is ever fetched.
	BrowsePageSize = 100
)

// Sender issues one command to a host. *protocol.Pool implements it.
type Sender interface {
	Send(ctx context.Context, host string, cmd protocol.Command) (protocol.Envelope, error)
}

// Kind tags the concrete variant of a Node.
type Kind string

const (
	KindSource    Kind = "source"
	KindContainer Kind = "container"
	KindTrack     Kind = "track"
)

// Node is one of *Source, *Container or *Track.
type Node interface {
	Kind() Kind
	ID() string
	DisplayName() string
	Parent() Node
	sealed()
}

// Browser is implemented by nodes that can list children.
type Browser interface {
	Node
	Browse(ctx context.Context, depth int) error
	Children() []Node
}

// client carries what a node needs to issue browse commands. It is shared by
// every node of one tree.
type client struct {
	host   string
	sender Sender
	logger *log.Logger
}

// branch holds the children of a Source or Container.
type branch struct {
	mu       sync.RWMutex
	children []Node
}

// Children returns a copy of the current children.
func (b *branch) Children() []Node {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Node, len(b.children))
	copy(out, b.children)
	return out
}

func (b *branch) replaceChildren(children []Node) {
	b.mu.Lock()
	b.children = children
	b.mu.Unlock()
}

// entry is the union of fields seen in browse and get_music_sources payloads.
type entry struct {
	SID             protocol.FlexString `json:"sid"`
	CID             protocol.FlexString `json:"cid"`
	MID             protocol.FlexString `json:"mid"`
	Name            string              `json:"name"`
	Type            string              `json:"type"`
	ImageURL        string              `json:"image_url"`
	Container       string              `json:"container"`
	Playable        string              `json:"playable"`
	Available       string              `json:"available"`
	ServiceUsername string              `json:"service_username"`
	Artist          string              `json:"artist"`
	Album           string              `json:"album"`
}

// ParseNode decodes one catalog entry. The variant is chosen by which
// identifier is present, checked in the order mid, cid, sid. The returned
// node has no parent and cannot browse until attached to a tree.
func ParseNode(data json.RawMessage) (Node, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &protocol.ProtocolError{Reason: "catalog entry is not an object", Raw: data}
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &protocol.ProtocolError{Reason: "malformed catalog entry: " + err.Error(), Raw: data}
	}

	switch {
	case present(fields, "mid"):
		return &Track{
			MID:        e.MID.String(),
			Name:       e.Name,
			Type:       e.Type,
			Artist:     e.Artist,
			Album:      e.Album,
			ImageURL:   e.ImageURL,
			IsPlayable: e.Playable == "" || yes(e.Playable),
		}, nil
	case present(fields, "cid"):
		return &Container{
			CID:         strings.TrimSpace(e.CID.String()),
			Name:        e.Name,
			Type:        e.Type,
			ImageURL:    e.ImageURL,
			IsContainer: e.Container == "" || yes(e.Container),
			IsPlayable:  yes(e.Playable),
		}, nil
	case present(fields, "sid"):
		sid, err := e.SID.Int()
		if err != nil {
			return nil, &protocol.ParseError{Field: "sid", Value: e.SID.String(), Err: err}
		}
		return &Source{
			SID:             sid,
			Name:            e.Name,
			Type:            e.Type,
			ImageURL:        e.ImageURL,
			Available:       e.Available == "true",
			ServiceUsername: e.ServiceUsername,
		}, nil
	default:
		return nil, &protocol.ProtocolError{Reason: "catalog entry has no mid, cid or sid", Raw: data}
	}
}

func present(fields map[string]json.RawMessage, key string) bool {
	value, ok := fields[key]
	return ok && string(value) != "null"
}

func yes(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), "yes")
}

// attach links a freshly parsed node into a tree.
func attach(node Node, parent Node, c *client) {
	switch n := node.(type) {
	case *Source:
		n.parent = parent
		n.client = c
	case *Container:
		n.parent = parent
		n.client = c
	case *Track:
		n.parent = parent
	}
}

// browse runs cmd and replaces owner's children with the result. When depth
// is positive each browsable child is browsed with depth-1; failures below
// the first level are logged only. A failed or rejected browse leaves the
// existing children in place.
func browse(ctx context.Context, c *client, owner Node, b *branch, cmd protocol.Command, depth int) error {
	env, err := c.sender.Send(ctx, c.host, cmd)
	if err != nil {
		return err
	}
	if err := env.Err(); err != nil {
		return err
	}

	var items []json.RawMessage
	if err := env.DecodePayload(&items); err != nil {
		return &protocol.ProtocolError{Host: c.host, Reason: "browse payload is not a list", Raw: env.Raw}
	}

	children := make([]Node, 0, len(items))
	for _, item := range items {
		child, err := ParseNode(item)
		if err != nil {
			c.logger.Printf("CATALOG: %s: skipping entry under %s: %v", c.host, owner.ID(), err)
			continue
		}
		attach(child, owner, c)
		children = append(children, child)
	}
	b.replaceChildren(children)

	if depth <= 0 {
		return nil
	}
	for _, child := range children {
		var err error
		switch n := child.(type) {
		case *Container:
			if !n.IsContainer {
				continue
			}
			err = n.Browse(ctx, depth-1)
		case *Source:
			err = n.Browse(ctx, depth-1)
		default:
			continue
		}
		if err != nil {
			c.logger.Printf("CATALOG: %s: browse %s failed: %v", c.host, child.ID(), err)
		}
	}
	return nil
}

// findContainer searches nodes depth-first.
func findContainer(nodes []Node, cid string) (*Container, bool) {
	for _, node := range nodes {
		switch n := node.(type) {
		case *Container:
			if found, ok := n.GetContainer(cid); ok {
				return found, true
			}
		case *Source:
			if found, ok := n.GetContainer(cid); ok {
				return found, true
			}
		}
	}
	return nil, false
}
