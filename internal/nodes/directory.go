// Package nodes lists the gateway's exit nodes and keeps the usable ones.
package nodes

import (
	"context"
	"strings"
	"sync"

	"github.com/chiquitav2/erebrus-connector/pkg/api"
	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

// Lister fetches the raw node list.
type Lister interface {
	ListNodes(ctx context.Context, token string) ([]api.Node, error)
}

// Directory fetches active nodes and remembers the most recent result.
type Directory struct {
	lister Lister
	logger *logger.Logger

	mu   sync.RWMutex
	last []api.Node
}

// NewDirectory creates a Directory backed by lister.
func NewDirectory(lister Lister, log *logger.Logger) *Directory {
	return &Directory{
		lister: lister,
		logger: log.WithComponent("nodes"),
	}
}

// FetchActiveNodes returns the usable nodes in server order.
// An empty token fails before any request is made.
func (d *Directory) FetchActiveNodes(ctx context.Context, token string) ([]api.Node, error) {
	if token == "" {
		return nil, apperrors.NewNodeError(apperrors.ErrCodeUnauthenticated, "bearer token is required", false, nil)
	}
	ctx = logger.WithOperation(ctx, "fetch_nodes")

	all, err := d.lister.ListNodes(ctx, token)
	if err != nil {
		d.logger.ErrorCtx(ctx, "node fetch failed", err)
		return nil, err
	}

	active := FilterUsable(all)

	d.mu.Lock()
	d.last = active
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "fetched nodes", "total", len(all), "usable", len(active))
	return active, nil
}

// Lookup finds a node by ID in the most recent fetch.
func (d *Directory) Lookup(id string) (api.Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, n := range d.last {
		if n.ID == id {
			return n, true
		}
	}
	return api.Node{}, false
}

// Last returns a copy of the most recent fetch.
func (d *Directory) Last() []api.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]api.Node(nil), d.last...)
}

// FilterUsable keeps nodes that are active and have a region, preserving order.
func FilterUsable(nodes []api.Node) []api.Node {
	usable := make([]api.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Usable() {
			usable = append(usable, n)
		}
	}
	return usable
}

// FilterByRegion keeps nodes whose region matches, ignoring case and spaces.
func FilterByRegion(nodes []api.Node, region string) []api.Node {
	region = strings.TrimSpace(region)
	if region == "" {
		return nodes
	}
	matched := make([]api.Node, 0, len(nodes))
	for _, n := range nodes {
		if strings.EqualFold(strings.TrimSpace(n.Region), region) {
			matched = append(matched, n)
		}
	}
	return matched
}

// Regions returns the distinct regions in first-seen order.
func Regions(nodes []api.Node) []string {
	seen := make(map[string]struct{})
	var regions []string
	for _, n := range nodes {
		r := strings.ToUpper(strings.TrimSpace(n.Region))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		regions = append(regions, r)
	}
	return regions
}
