// Package provisioner creates a VPN client on a node and assembles the
// resulting tunnel configuration.
package provisioner

import (
	"context"
	"strings"

	"github.com/chiquitav2/erebrus-connector/internal/connector/wireguard"
	"github.com/chiquitav2/erebrus-connector/pkg/api"
	"github.com/chiquitav2/erebrus-connector/pkg/crypto"
	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

// MaxClientNameLength is the cap callers are expected to enforce.
const MaxClientNameLength = 8

// Gateway is the part of the gateway client the provisioner needs.
type Gateway interface {
	CreateClient(ctx context.Context, token, nodeID string, req api.CreateClientRequest) (*api.CreateClientPayload, error)
}

// KeyGenerator produces fresh key material.
type KeyGenerator interface {
	Generate() (*crypto.KeyPair, error)
}

// Result is a provisioned client: its tunnel config and exportable text.
type Result struct {
	NodeID     string
	ClientName string
	Config     wireguard.TunnelConfig
	ConfigText string
	Server     ProvisionResult
}

// ProvisionResult is what the gateway returned for the client.
type ProvisionResult struct {
	AssignedAddress    string
	ServerPublicKey    string
	ServerPresharedKey string
	Endpoint           string
}

// Provisioner requests client resources and builds tunnel configs.
type Provisioner struct {
	gateway Gateway
	keys    KeyGenerator
	policy  wireguard.Policy
	logger  *logger.Logger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithKeyGenerator replaces the crypto/rand backed generator.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(p *Provisioner) { p.keys = g }
}

// WithPolicy overrides DNS and MTU. Empty fields keep the defaults.
func WithPolicy(policy wireguard.Policy) Option {
	return func(p *Provisioner) {
		if len(policy.DNS) > 0 {
			p.policy.DNS = append([]string(nil), policy.DNS...)
		}
		if policy.MTU > 0 {
			p.policy.MTU = policy.MTU
		}
	}
}

// New creates a Provisioner.
func New(gateway Gateway, log *logger.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{
		gateway: gateway,
		keys:    crypto.NewGenerator(nil),
		policy:  wireguard.DefaultPolicy(),
		logger:  log.WithComponent("provisioner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision generates a key pair, registers its public half on node and
// returns the assembled tunnel config. Every call uses new keys.
func (p *Provisioner) Provision(ctx context.Context, token string, node *api.Node, clientName string) (*Result, error) {
	if token == "" {
		return nil, apperrors.NewProvisioningError(apperrors.ErrCodeUnauthenticated, "bearer token is required", false, nil)
	}
	if node == nil || node.ID == "" {
		return nil, apperrors.NewProvisioningError(apperrors.ErrCodeNodeNotSelected, "no node selected", false, nil)
	}
	if strings.TrimSpace(clientName) == "" {
		return nil, apperrors.NewProvisioningError(apperrors.ErrCodeValidation, "client name is required", false, nil)
	}

	ctx = logger.WithNodeID(ctx, node.ID)
	ctx = logger.WithClientName(ctx, clientName)
	op, ctx := p.logger.StartOp(ctx, "provision")

	if len(clientName) > MaxClientNameLength {
		p.logger.WithContext(ctx).Debug("client name exceeds recommended length",
			"length", len(clientName), "max", MaxClientNameLength)
	}

	keys, err := p.keys.Generate()
	if err != nil {
		err = apperrors.NewProvisioningError(apperrors.ErrCodeKeyGenFailure, "key generation failed", false, err)
		op.Fail(err, "aborting provisioning")
		return nil, err
	}

	op.Progress("key material generated", "keys", keys)

	payload, err := p.gateway.CreateClient(ctx, token, node.ID, api.CreateClientRequest{
		Name:         clientName,
		PresharedKey: keys.PresharedKeyBase64(),
		PublicKey:    keys.PublicKeyBase64(),
	})
	if err != nil {
		op.Fail(err, "client provisioning failed")
		return nil, err
	}

	server := ProvisionResult{
		AssignedAddress:    payload.Client.Address[0],
		ServerPublicKey:    payload.ServerPublicKey,
		ServerPresharedKey: payload.Client.PresharedKey,
		Endpoint:           payload.Endpoint,
	}
	cfg := p.assemble(keys, server)

	op.Complete("client provisioned",
		"endpoint", server.Endpoint,
		"address", server.AssignedAddress,
		"keys", keys)

	return &Result{
		NodeID:     node.ID,
		ClientName: clientName,
		Config:     cfg,
		ConfigText: wireguard.Render(cfg),
		Server:     server,
	}, nil
}

// assemble fixes port, routes and keepalive locally regardless of the response.
func (p *Provisioner) assemble(keys *crypto.KeyPair, server ProvisionResult) wireguard.TunnelConfig {
	return wireguard.TunnelConfig{
		PrivateKey:          keys.PrivateKeyBase64(),
		PublicKey:           keys.PublicKeyBase64(),
		Address:             server.AssignedAddress,
		ServerPublicKey:     server.ServerPublicKey,
		ServerAddress:       server.Endpoint,
		ServerPort:          wireguard.DefaultServerPort,
		AllowedIPs:          wireguard.FullTunnel(),
		DNS:                 append([]string(nil), p.policy.DNS...),
		MTU:                 p.policy.MTU,
		PresharedKey:        server.ServerPresharedKey,
		PersistentKeepalive: wireguard.DefaultPersistentKeepalive,
	}
}
