package api

// CreateClientRequest is the body of a client provisioning call.
// It carries public material only; the private key never appears here.
type CreateClientRequest struct {
	Name         string `json:"name"`
	PresharedKey string `json:"presharedKey"`
	PublicKey    string `json:"publicKey"`
}
