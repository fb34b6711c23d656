package catalog

import (
	"context"
	"fmt"

	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

// Container is a browsable folder inside a source (an album, playlist,
// artist, ...). Its sid always comes from the nearest ancestor Source.
type Container struct {
	CID         string
	Name        string
	Type        string
	ImageURL    string
	IsContainer bool
	IsPlayable  bool

	parent Node
	client *client
	branch
}

func (c *Container) Kind() Kind          { return KindContainer }
func (c *Container) ID() string          { return "cid:" + c.CID }
func (c *Container) DisplayName() string { return c.Name }
func (c *Container) Parent() Node        { return c.parent }
func (c *Container) sealed()             {}

// Source walks up the tree to the owning source.
func (c *Container) Source() (*Source, bool) {
	for node := c.parent; node != nil; node = node.Parent() {
		if source, ok := node.(*Source); ok {
			return source, true
		}
	}
	return nil, false
}

// SID returns the sid of the owning source.
func (c *Container) SID() (int, bool) {
	source, ok := c.Source()
	if !ok {
		return 0, false
	}
	return source.SID, true
}

// Browse lists the first BrowsePageSize entries of the container and
// replaces its children with them.
func (c *Container) Browse(ctx context.Context, depth int) error {
	sid, ok := c.SID()
	if !ok || c.client == nil {
		return fmt.Errorf("container %s is not attached to a source", c.CID)
	}
	cmd := protocol.BrowseContainer(sid, c.CID, 0, BrowsePageSize-1)
	return browse(ctx, c.client, c, &c.branch, cmd, depth)
}

// GetContainer returns c itself or a descendant with the given cid.
func (c *Container) GetContainer(cid string) (*Container, bool) {
	if c.CID == cid {
		return c, true
	}
	return findContainer(c.Children(), cid)
}

// Track is a playable media item. It has no children.
type Track struct {
	MID        string
	Name       string
	Type       string
	Artist     string
	Album      string
	ImageURL   string
	IsPlayable bool

	parent Node
}

func (t *Track) Kind() Kind          { return KindTrack }
func (t *Track) ID() string          { return "mid:" + t.MID }
func (t *Track) DisplayName() string { return t.Name }
func (t *Track) Parent() Node        { return t.parent }
func (t *Track) sealed()             {}
