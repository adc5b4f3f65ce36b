package connector

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chiquitav2/erebrus-connector/internal/auth"
	"github.com/chiquitav2/erebrus-connector/internal/connector/client"
	"github.com/chiquitav2/erebrus-connector/internal/connector/config"
	"github.com/chiquitav2/erebrus-connector/internal/connector/wireguard"
	"github.com/chiquitav2/erebrus-connector/internal/nodes"
	"github.com/chiquitav2/erebrus-connector/internal/provisioner"
	"github.com/chiquitav2/erebrus-connector/internal/store"
	"github.com/chiquitav2/erebrus-connector/internal/tunnel"
	"github.com/chiquitav2/erebrus-connector/internal/tunnel/wgquick"
	"github.com/chiquitav2/erebrus-connector/pkg/api"
	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
	"github.com/chiquitav2/erebrus-connector/pkg/events"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

// Connector wires the gateway handshake, node selection, provisioning and
// the tunnel session into one object. Callers still sequence the steps:
// Authenticate, then Nodes, then Provision, then Connect.
type Connector struct {
	config *config.Config
	logger *logger.Logger

	gateway     *client.Client
	auth        *auth.Session
	nodes       *nodes.Directory
	provisioner *provisioner.Provisioner
	engine      tunnel.Engine
	session     *tunnel.Session
	store       store.Store
	bus         events.EventBus

	httpClient *http.Client
	keys       provisioner.KeyGenerator
}

// Provisioned is a provisioning result together with the node it was made
// on and, when the profile store is enabled, the saved profile.
type Provisioned struct {
	*provisioner.Result
	Node    api.Node
	Profile *store.Profile
}

// Option configures a Connector.
type Option func(*Connector)

// WithEngine replaces the wg-quick engine.
func WithEngine(e tunnel.Engine) Option {
	return func(c *Connector) { c.engine = e }
}

// WithStore supplies a profile store, enabling profile persistence.
func WithStore(s store.Store) Option {
	return func(c *Connector) { c.store = s }
}

// WithEventBus shares an event bus with the tunnel session.
func WithEventBus(bus events.EventBus) Option {
	return func(c *Connector) { c.bus = bus }
}

// WithHTTPClient replaces the gateway HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Connector) { c.httpClient = hc }
}

// WithKeyGenerator replaces the crypto/rand backed key generator.
func WithKeyGenerator(g provisioner.KeyGenerator) Option {
	return func(c *Connector) { c.keys = g }
}

// New creates a Connector from cfg. The SQLite profile store is opened only
// when cfg.SaveProfiles is set and no store was supplied.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Connector, error) {
	if log == nil {
		log = logger.NewDevelopment("connector")
	}

	c := &Connector{
		config: cfg,
		logger: log.WithComponent("connector"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.gateway = client.NewClient(client.Options{
		BaseURL:    cfg.GatewayURL,
		AuthPrefix: cfg.AuthPrefix,
		APIPrefix:  cfg.APIPrefix,
		Timeout:    cfg.RequestTimeout,
		HTTPClient: c.httpClient,
	}, log)
	c.auth = auth.NewSession(c.gateway, log)
	c.nodes = nodes.NewDirectory(c.gateway, log)

	provOpts := []provisioner.Option{
		provisioner.WithPolicy(wireguard.Policy{DNS: cfg.DNSServers(), MTU: cfg.MTU}),
	}
	if c.keys != nil {
		provOpts = append(provOpts, provisioner.WithKeyGenerator(c.keys))
	}
	c.provisioner = provisioner.New(c.gateway, log, provOpts...)

	if c.engine == nil {
		c.engine = wgquick.New(wgquick.Options{
			Interface: cfg.Interface,
			ConfigDir: cfg.ConfigDir,
		}, log)
	}
	c.session = tunnel.NewSession(c.engine, c.bus, log)

	if c.store == nil && cfg.SaveProfiles {
		s, err := store.NewStore(&store.Config{Path: cfg.StorePath}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open profile store: %w", err)
		}
		c.store = s
	}

	return c, nil
}

// Session returns the tunnel session for observers.
func (c *Connector) Session() *tunnel.Session { return c.session }

// Credential returns the current credential.
func (c *Connector) Credential() auth.Credential { return c.auth.Credential() }

// Authenticate obtains a bearer token. A configured API key is exchanged
// directly; otherwise a new organisation is created first.
func (c *Connector) Authenticate(ctx context.Context) (auth.Credential, error) {
	var err error
	if c.config.APIKey != "" {
		_, err = c.auth.ExchangeToken(ctx, c.config.APIKey)
	} else {
		_, err = c.auth.Authenticate(ctx)
	}
	if err != nil {
		return auth.Credential{}, err
	}
	return c.auth.Credential(), nil
}

// Restore installs a token obtained earlier, skipping the handshake.
func (c *Connector) Restore(apiKey, token string) {
	c.auth.Restore(apiKey, token)
}

// Nodes returns the usable nodes, optionally limited to region.
func (c *Connector) Nodes(ctx context.Context, region string) ([]api.Node, error) {
	active, err := c.nodes.FetchActiveNodes(ctx, c.auth.Token())
	if err != nil {
		return nil, err
	}
	return nodes.FilterByRegion(active, region), nil
}

// Provision creates a client named clientName on nodeID. The node must be
// among the usable nodes; the list is fetched when none is cached.
func (c *Connector) Provision(ctx context.Context, nodeID, clientName string) (*Provisioned, error) {
	if clientName == "" {
		clientName = c.config.ClientName
	}

	token := c.auth.Token()
	node, ok := c.nodes.Lookup(nodeID)
	if !ok && token != "" && len(c.nodes.Last()) == 0 {
		if _, err := c.nodes.FetchActiveNodes(ctx, token); err != nil {
			return nil, err
		}
		node, ok = c.nodes.Lookup(nodeID)
	}

	var selected *api.Node
	if ok {
		selected = &node
	} else if nodeID != "" && token != "" {
		return nil, apperrors.NewProvisioningError(apperrors.ErrCodeNodeNotSelected,
			fmt.Sprintf("node %s is not an active node", nodeID), false, nil)
	}

	res, err := c.provisioner.Provision(ctx, token, selected, clientName)
	if err != nil {
		return nil, err
	}

	out := &Provisioned{Result: res, Node: node}
	if c.store != nil {
		profile, err := c.store.Save(ctx, &store.Profile{
			ClientName: res.ClientName,
			NodeID:     node.ID,
			NodeName:   node.DisplayName(),
			Region:     node.Region,
			Endpoint:   res.Server.Endpoint,
			Address:    res.Server.AssignedAddress,
			ConfigText: res.ConfigText,
		})
		if err != nil {
			c.logger.ErrorCtx(ctx, "failed to save profile", err)
			return out, err
		}
		out.Profile = profile
		c.logger.InfoContext(logger.WithProfileID(ctx, profile.ID), "profile saved")
	}
	return out, nil
}

// Connect initialises the session when needed and brings the tunnel up.
func (c *Connector) Connect(ctx context.Context, cfg wireguard.TunnelConfig) (tunnel.State, error) {
	switch c.session.State().Current {
	case tunnel.StateUninitialized, tunnel.StateFailed:
		if st, err := c.session.Initialize(ctx); err != nil {
			return st, err
		}
	}
	return c.session.Connect(ctx, cfg)
}

// ConnectProfile connects using a saved profile.
func (c *Connector) ConnectProfile(ctx context.Context, id string) (tunnel.State, error) {
	profile, err := c.Profile(ctx, id)
	if err != nil {
		return c.session.State(), err
	}
	cfg, err := profile.TunnelConfig()
	if err != nil {
		return c.session.State(), err
	}
	return c.Connect(logger.WithProfileID(ctx, profile.ID), cfg)
}

// Disconnect brings the tunnel down. It does nothing unless connected.
func (c *Connector) Disconnect(ctx context.Context) (tunnel.State, error) {
	return c.session.Disconnect(ctx)
}

// Teardown removes a tunnel left up by another process. It talks to the
// engine directly because this process's session never connected it.
func (c *Connector) Teardown(ctx context.Context) error {
	if c.session.State().Current == tunnel.StateConnected {
		_, err := c.session.Disconnect(ctx)
		return err
	}
	status, err := c.engine.Status(ctx)
	if err != nil {
		return err
	}
	if !status.Connected {
		return apperrors.NewTunnelError(apperrors.ErrCodeNotReady, "no tunnel is up", false, nil)
	}
	return c.engine.Disconnect(ctx)
}

// Status refreshes and returns the tunnel status.
func (c *Connector) Status(ctx context.Context) (tunnel.State, tunnel.Status, error) {
	status, err := c.session.UpdateStatus(ctx)
	return c.session.State(), status, err
}

// ExportConfig writes the canonical configuration text to path.
func (c *Connector) ExportConfig(path string, res *provisioner.Result) error {
	return wireguard.WriteConfigFile(path, res.ConfigText)
}

// Profiles lists saved profiles.
func (c *Connector) Profiles(ctx context.Context) ([]*store.Profile, error) {
	if err := c.requireStore(); err != nil {
		return nil, err
	}
	return c.store.List(ctx)
}

// Profile returns one saved profile.
func (c *Connector) Profile(ctx context.Context, id string) (*store.Profile, error) {
	if err := c.requireStore(); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, id)
}

// DeleteProfile removes a saved profile.
func (c *Connector) DeleteProfile(ctx context.Context, id string) error {
	if err := c.requireStore(); err != nil {
		return err
	}
	return c.store.Delete(ctx, id)
}

// Close releases the profile store.
func (c *Connector) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func (c *Connector) requireStore() error {
	if c.store == nil {
		return apperrors.NewSystemError(apperrors.ErrCodeConfiguration,
			"profile store is disabled; set save_profiles to enable it", false, nil)
	}
	return nil
}
