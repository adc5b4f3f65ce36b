package api

import "strings"

// NodeStatusActive is the only node status that can host a client.
const NodeStatusActive = "active"

// OrganisationResponse is returned when an organisation is created.
// Some gateway versions nest the key under payload.
type OrganisationResponse struct {
	APIKey  string `json:"api_key"`
	Payload *struct {
		APIKey string `json:"api_key"`
	} `json:"payload,omitempty"`
}

// Key returns the API key from whichever location carried it.
func (o OrganisationResponse) Key() string {
	if o.APIKey != "" {
		return o.APIKey
	}
	if o.Payload != nil {
		return o.Payload.APIKey
	}
	return ""
}

// TokenPayload holds the bearer token. The gateway has used both casings.
type TokenPayload struct {
	TokenUpper string `json:"Token"`
	TokenLower string `json:"token"`
}

// Value returns the token regardless of casing.
func (p TokenPayload) Value() string {
	if p.TokenUpper != "" {
		return p.TokenUpper
	}
	return p.TokenLower
}

// Node describes a gateway exit node.
type Node struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Region        string `json:"region"`
	Status        string `json:"status"`
	ChainName     string `json:"chainName"`
	WalletAddress string `json:"walletAddress"`
	Domain        string `json:"domain,omitempty"`
	NodeType      string `json:"nodeType,omitempty"`
	City          string `json:"ipinfocity,omitempty"`
	Country       string `json:"ipinfocountry,omitempty"`
}

// Usable reports whether the node is active and has a region.
func (n Node) Usable() bool {
	return n.Status == NodeStatusActive && strings.TrimSpace(n.Region) != ""
}

// DisplayName is the label shown when picking a node.
func (n Node) DisplayName() string {
	label := n.Name
	if label == "" {
		label = n.ID
		if len(label) > 8 {
			label = label[:8]
		}
	}
	if n.ChainName == "" {
		return label
	}
	return label + " (" + n.ChainName + ")"
}

// ProvisionedClient is the client record created on a node.
type ProvisionedClient struct {
	Address      []string `json:"Address"`
	PresharedKey string   `json:"PresharedKey"`
}

// CreateClientPayload is the payload of a successful provisioning call.
type CreateClientPayload struct {
	Client          ProvisionedClient `json:"client"`
	ServerPublicKey string            `json:"serverPublicKey"`
	Endpoint        string            `json:"endpoint"`
}
