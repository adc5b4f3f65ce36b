package provisioner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiquitav2/erebrus-connector/internal/connector/client"
	"github.com/chiquitav2/erebrus-connector/internal/connector/wireguard"
	"github.com/chiquitav2/erebrus-connector/pkg/api"
	"github.com/chiquitav2/erebrus-connector/pkg/crypto"
	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

const okResponse = `{"status":200,"payload":{"client":{"Address":["10.0.0.2/32"],"PresharedKey":"PSK"},"serverPublicKey":"SPUB","endpoint":"1.2.3.4"}}`

type recordingGateway struct {
	status int
	body   string

	mu       sync.Mutex
	requests []string
	paths    []string
}

func (g *recordingGateway) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	g.mu.Lock()
	g.requests = append(g.requests, string(raw))
	g.paths = append(g.paths, r.URL.Path)
	g.mu.Unlock()

	w.WriteHeader(g.status)
	w.Write([]byte(g.body))
}

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func newProvisioner(t *testing.T, status int, body string, opts ...Option) (*Provisioner, *recordingGateway) {
	t.Helper()
	gw := &recordingGateway{status: status, body: body}
	server := httptest.NewServer(http.HandlerFunc(gw.handler))
	t.Cleanup(server.Close)

	c := client.NewClient(client.Options{BaseURL: server.URL}, logger.NewNop())
	return New(c, logger.NewNop(), opts...), gw
}

type stubKeys struct {
	kp  *crypto.KeyPair
	err error
}

func (s stubKeys) Generate() (*crypto.KeyPair, error) { return s.kp, s.err }

var testNode = &api.Node{ID: "node-1", Status: "active", Region: "SG"}

func TestProvision_PrivateKeyNeverSent(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p, gw := newProvisioner(t, http.StatusOK, okResponse, WithKeyGenerator(stubKeys{kp: kp}))
	res, err := p.Provision(context.Background(), "tok", testNode, "laptop")
	require.NoError(t, err)

	require.Equal(t, 1, gw.count())
	body := gw.requests[0]
	assert.NotContains(t, body, kp.PrivateKeyBase64())
	assert.NotContains(t, body, strings.TrimRight(kp.PrivateKeyBase64(), "="))
	assert.Contains(t, body, kp.PublicKeyBase64())
	assert.Contains(t, body, kp.PresharedKeyBase64())
	assert.JSONEq(t,
		`{"name":"laptop","presharedKey":"`+kp.PresharedKeyBase64()+`","publicKey":"`+kp.PublicKeyBase64()+`"}`,
		body)
	assert.Equal(t, "/api/v1.0/erebrus/client/node-1", gw.paths[0])

	assert.Equal(t, kp.PrivateKeyBase64(), res.Config.PrivateKey)
	assert.Equal(t, kp.PublicKeyBase64(), res.Config.PublicKey)
}

func TestProvision_LocalPolicyFixed(t *testing.T) {
	responses := []string{
		okResponse,
		`{"payload":{"client":{"Address":["10.9.0.7/32","fd00::7/128"],"PresharedKey":"PSK2","AllowedIPs":["10.0.0.0/8"]},"serverPublicKey":"S","endpoint":"vpn.example.com","port":9999,"persistentKeepalive":0}}`,
	}

	for _, body := range responses {
		p, _ := newProvisioner(t, http.StatusOK, body)
		res, err := p.Provision(context.Background(), "tok", testNode, "laptop")
		require.NoError(t, err)

		assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, res.Config.AllowedIPs)
		assert.Equal(t, 51820, res.Config.ServerPort)
		assert.Equal(t, 16, res.Config.PersistentKeepalive)
		assert.Equal(t, []string{"1.1.1.1", "8.8.8.8"}, res.Config.DNS)
		assert.Equal(t, 1280, res.Config.MTU)
	}
}

func TestProvision_ConfigText(t *testing.T) {
	p, _ := newProvisioner(t, http.StatusOK, okResponse)
	res, err := p.Provision(context.Background(), "tok", testNode, "laptop")
	require.NoError(t, err)

	for _, line := range []string{
		"Address = 10.0.0.2/32",
		"PublicKey = SPUB",
		"PresharedKey = PSK",
		"Endpoint = 1.2.3.4:51820",
	} {
		assert.Contains(t, strings.Split(res.ConfigText, "\n"), line)
	}
	assert.Contains(t, res.ConfigText, "PrivateKey = "+res.Config.PrivateKey)
	assert.True(t, strings.HasPrefix(res.ConfigText, "[Interface]\n"))

	assert.Equal(t, "PSK", res.Config.PresharedKey, "server-issued PSK is used for the peer")
	assert.Equal(t, "SPUB", res.Config.ServerPublicKey)
	assert.NotEqual(t, "SPUB", res.Config.PublicKey)
	assert.Equal(t, ProvisionResult{
		AssignedAddress:    "10.0.0.2/32",
		ServerPublicKey:    "SPUB",
		ServerPresharedKey: "PSK",
		Endpoint:           "1.2.3.4",
	}, res.Server)
}

func TestProvision_FreshKeysEachCall(t *testing.T) {
	p, _ := newProvisioner(t, http.StatusOK, okResponse)

	first, err := p.Provision(context.Background(), "tok", testNode, "a")
	require.NoError(t, err)
	second, err := p.Provision(context.Background(), "tok", testNode, "a")
	require.NoError(t, err)

	assert.NotEqual(t, first.Config.PrivateKey, second.Config.PrivateKey)
}

func TestProvision_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		token string
		node  *api.Node
		cname string
		code  string
	}{
		{"no token", "", testNode, "laptop", apperrors.ErrCodeUnauthenticated},
		{"nil node", "tok", nil, "laptop", apperrors.ErrCodeNodeNotSelected},
		{"empty node", "tok", &api.Node{}, "laptop", apperrors.ErrCodeNodeNotSelected},
		{"blank name", "tok", testNode, "  ", apperrors.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, gw := newProvisioner(t, http.StatusOK, okResponse)
			_, err := p.Provision(context.Background(), tt.token, tt.node, tt.cname)
			assert.True(t, apperrors.HasErrorCode(err, tt.code), "got %v", err)
			assert.Equal(t, 0, gw.count())
		})
	}
}

func TestProvision_KeyGenFailureBeforeNetwork(t *testing.T) {
	rngErr := apperrors.NewCryptoError(apperrors.ErrCodeRandomnessUnavailable, "rng closed", errors.New("EOF"))
	p, gw := newProvisioner(t, http.StatusOK, okResponse, WithKeyGenerator(stubKeys{err: rngErr}))

	_, err := p.Provision(context.Background(), "tok", testNode, "laptop")
	assert.True(t, apperrors.HasErrorCode(err, apperrors.ErrCodeKeyGenFailure))
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeRandomnessUnavailable))
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, 0, gw.count())
}

func TestProvision_LongNamePassesThrough(t *testing.T) {
	p, gw := newProvisioner(t, http.StatusBadRequest, `{"status":400,"message":"name must be at most 8 characters"}`)

	_, err := p.Provision(context.Background(), "tok", testNode, "a-very-long-name")
	require.Error(t, err)
	require.Equal(t, 1, gw.count())
	assert.Contains(t, gw.requests[0], `"name":"a-very-long-name"`)

	assert.True(t, apperrors.HasErrorCode(err, apperrors.ErrCodeServerRejected))
	assert.Equal(t, 400, apperrors.HTTPStatus(err))
	assert.Equal(t, "name must be at most 8 characters", apperrors.ServerMessage(err))
}

func TestProvision_MalformedResponse(t *testing.T) {
	p, _ := newProvisioner(t, http.StatusOK, `{"payload":{"client":{"Address":[],"PresharedKey":"PSK"},"serverPublicKey":"SPUB","endpoint":"1.2.3.4"}}`)

	_, err := p.Provision(context.Background(), "tok", testNode, "laptop")
	assert.True(t, apperrors.HasErrorCode(err, apperrors.ErrCodeMalformedResponse))
}

func TestWithPolicy(t *testing.T) {
	p, _ := newProvisioner(t, http.StatusOK, okResponse,
		WithPolicy(wireguard.Policy{DNS: []string{"9.9.9.9"}}))

	res, err := p.Provision(context.Background(), "tok", testNode, "laptop")
	require.NoError(t, err)
	assert.Equal(t, []string{"9.9.9.9"}, res.Config.DNS)
	assert.Equal(t, wireguard.DefaultMTU, res.Config.MTU)
	assert.Contains(t, res.ConfigText, "DNS = 9.9.9.9")
}

func TestProvision_LogsRedactKeys(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	gw := &recordingGateway{status: http.StatusOK, body: okResponse}
	server := httptest.NewServer(http.HandlerFunc(gw.handler))
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	cfg := logger.DefaultConfig()
	cfg.Level = logger.LevelDebug
	cfg.Format = logger.FormatJSON
	log := logger.NewWithWriter(cfg, &buf)

	p := New(client.NewClient(client.Options{BaseURL: server.URL}, logger.NewNop()), log, WithKeyGenerator(stubKeys{kp: kp}))
	_, err = p.Provision(context.Background(), "tok", testNode, "laptop")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "key material generated")
	assert.Contains(t, out, "client provisioned")
	assert.Contains(t, out, `"operation":"provision"`)
	assert.NotContains(t, out, kp.PrivateKeyBase64())
	assert.NotContains(t, out, kp.PresharedKeyBase64())
}
