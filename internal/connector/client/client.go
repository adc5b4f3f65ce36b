package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chiquitav2/erebrus-connector/pkg/api"
	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

const (
	DefaultBaseURL    = "https://gateway.dev.netsepio.com"
	DefaultAuthPrefix = "/api/v1.1"
	DefaultAPIPrefix  = "/api/v1.0"
	DefaultTimeout    = 30 * time.Second

	HeaderAPIKey    = "X-API-Key"
	HeaderRequestID = "X-Request-ID"

	maxErrorBody = 512
)

// Options configures a gateway client.
type Options struct {
	BaseURL    string
	AuthPrefix string
	APIPrefix  string
	// Timeout bounds every single call. Zero disables the per-call limit.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the Erebrus gateway. It never retries; callers decide.
type Client struct {
	baseURL    string
	authPrefix string
	apiPrefix  string
	timeout    time.Duration
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new gateway client.
func NewClient(opts Options, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDevelopment("client")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.AuthPrefix == "" {
		opts.AuthPrefix = DefaultAuthPrefix
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = DefaultAPIPrefix
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		authPrefix: "/" + strings.Trim(opts.AuthPrefix, "/"),
		apiPrefix:  "/" + strings.Trim(opts.APIPrefix, "/"),
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		logger:     log.WithComponent("gateway"),
	}
}

// CreateOrganisation asks the gateway for a new organisation and returns its API key.
func (c *Client) CreateOrganisation(ctx context.Context) (string, error) {
	status, body, err := c.send(ctx, http.MethodPost, c.authPrefix+"/organisation", nil, nil)
	if err != nil {
		return "", apperrors.NewAuthError(apperrors.ErrCodeOrgCreationFailed,
			"organisation request failed", true, err)
	}

	if status < 200 || status > 299 {
		return "", statusError(apperrors.NewAuthError(apperrors.ErrCodeOrgCreationFailed,
			fmt.Sprintf("organisation creation failed with status %d", status), false, nil), status, body)
	}

	var orgResp api.OrganisationResponse
	if err := json.Unmarshal(body, &orgResp); err != nil {
		return "", apperrors.WithHTTP(apperrors.NewAuthError(apperrors.ErrCodeOrgCreationFailed,
			"failed to decode organisation response", false, err), status, "")
	}
	if orgResp.Key() == "" {
		return "", apperrors.WithHTTP(apperrors.NewAuthError(apperrors.ErrCodeOrgCreationFailed,
			"organisation response carried no api_key", false, nil), status, "")
	}

	c.logger.Debug("organisation created")
	return orgResp.Key(), nil
}

// ExchangeToken trades an API key for a bearer token.
func (c *Client) ExchangeToken(ctx context.Context, apiKey string) (string, error) {
	header := http.Header{}
	header.Set(HeaderAPIKey, apiKey)

	status, body, err := c.send(ctx, http.MethodGet, c.authPrefix+"/organisation/token", nil, header)
	if err != nil {
		return "", apperrors.NewAuthError(apperrors.ErrCodeTokenExchangeFailed,
			"token request failed", true, err)
	}

	if status < 200 || status > 299 {
		return "", statusError(apperrors.NewAuthError(apperrors.ErrCodeTokenExchangeFailed,
			fmt.Sprintf("token exchange failed with status %d", status), false, nil), status, body)
	}

	var tokenResp api.Response[api.TokenPayload]
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", apperrors.WithHTTP(apperrors.NewAuthError(apperrors.ErrCodeTokenExchangeFailed,
			"failed to decode token response", false, err), status, "")
	}
	if !tokenResp.Status.OK() {
		return "", apperrors.WithHTTP(apperrors.NewAuthError(apperrors.ErrCodeTokenExchangeFailed,
			fmt.Sprintf("token exchange rejected with status %d", tokenResp.Status), false, nil),
			int(tokenResp.Status), tokenResp.Message)
	}

	token := tokenResp.Payload.Value()
	if token == "" {
		missing := apperrors.NewAuthError(apperrors.ErrCodeMissingToken, "token response carried no token", false, nil)
		return "", apperrors.WithHTTP(apperrors.NewAuthError(apperrors.ErrCodeTokenExchangeFailed,
			"token exchange failed", false, missing), status, tokenResp.Message)
	}

	c.logger.Debug("bearer token issued")
	return token, nil
}

// ListNodes returns every node the gateway knows about, unfiltered.
func (c *Client) ListNodes(ctx context.Context, token string) ([]api.Node, error) {
	status, body, err := c.send(ctx, http.MethodGet, c.apiPrefix+"/nodes/all", nil, bearer(token))
	if err != nil {
		return nil, apperrors.NewNodeError(apperrors.ErrCodeNetworkFailure,
			"node list request failed", true, err)
	}

	if status != http.StatusOK {
		return nil, statusError(apperrors.NewNodeError(apperrors.ErrCodeNodeFetchFailed,
			fmt.Sprintf("node list failed with status %d", status), status >= 500, nil), status, body)
	}

	var nodesResp api.Response[[]api.Node]
	if err := json.Unmarshal(body, &nodesResp); err != nil {
		malformed := apperrors.NewNodeError(apperrors.ErrCodeMalformedResponse, "node list is not valid JSON", false, err)
		return nil, apperrors.WithHTTP(apperrors.NewNodeError(apperrors.ErrCodeNodeFetchFailed,
			"failed to decode node list", false, malformed), status, "")
	}

	c.logger.Debug("fetched node list", "count", len(nodesResp.Payload))
	return nodesResp.Payload, nil
}

// CreateClient provisions a VPN client on nodeID.
func (c *Client) CreateClient(ctx context.Context, token, nodeID string, req api.CreateClientRequest) (*api.CreateClientPayload, error) {
	path := c.apiPrefix + "/erebrus/client/" + url.PathEscape(nodeID)
	status, body, err := c.send(ctx, http.MethodPost, path, req, bearer(token))
	if err != nil {
		return nil, apperrors.NewProvisioningError(apperrors.ErrCodeNetworkFailure,
			"client provisioning request failed", true, err)
	}

	if status != http.StatusOK {
		return nil, statusError(apperrors.NewProvisioningError(apperrors.ErrCodeServerRejected,
			fmt.Sprintf("gateway rejected client with status %d", status), false, nil), status, body)
	}

	var clientResp api.Response[*api.CreateClientPayload]
	if err := json.Unmarshal(body, &clientResp); err != nil {
		return nil, apperrors.WithHTTP(apperrors.NewProvisioningError(apperrors.ErrCodeMalformedResponse,
			"failed to decode provisioning response", false, err), status, "")
	}

	payload := clientResp.Payload
	if missing := missingClientFields(payload); len(missing) > 0 {
		return nil, apperrors.WithHTTP(apperrors.NewProvisioningError(apperrors.ErrCodeMalformedResponse,
			"provisioning response missing "+strings.Join(missing, ", "), false, nil), status, clientResp.Message)
	}

	if !bareHost(payload.Endpoint) {
		return nil, apperrors.WithHTTP(apperrors.NewProvisioningError(apperrors.ErrCodeMalformedResponse,
			fmt.Sprintf("provisioning response endpoint %q is not a bare host", payload.Endpoint), false, nil),
			status, clientResp.Message)
	}

	c.logger.Debug("client provisioned", "node_id", nodeID, "endpoint", payload.Endpoint)
	return payload, nil
}

func missingClientFields(p *api.CreateClientPayload) []string {
	if p == nil {
		return []string{"payload"}
	}
	var missing []string
	if len(p.Client.Address) == 0 || strings.TrimSpace(p.Client.Address[0]) == "" {
		missing = append(missing, "client.Address")
	}
	if p.Client.PresharedKey == "" {
		missing = append(missing, "client.PresharedKey")
	}
	if p.ServerPublicKey == "" {
		missing = append(missing, "serverPublicKey")
	}
	if p.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	return missing
}

// bareHost reports whether endpoint is an IP address or host name with no
// port, scheme or path. The port is always fixed locally.
func bareHost(endpoint string) bool {
	if net.ParseIP(endpoint) != nil {
		return true
	}
	return !strings.ContainsAny(endpoint, ":/[] \t")
}

// send performs one round trip. A non-nil error means no usable response arrived.
func (c *Client) send(ctx context.Context, method, path string, body any, header http.Header) (int, []byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	requestID := logger.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = logger.WithRequestID(ctx, requestID)
	}

	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.HTTPRequest(ctx, method, path, 0, time.Since(start), "error", err.Error())
		return 0, nil, networkError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	c.logger.HTTPRequest(ctx, method, path, resp.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, networkError(ctx, fmt.Errorf("failed to read response body: %w", err))
	}
	c.logger.Trace("gateway response body", "path", path, "body", string(respBody))

	return resp.StatusCode, respBody, nil
}

func networkError(ctx context.Context, err error) error {
	msg := "gateway unreachable"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = "gateway request timed out"
	}
	return apperrors.NewGatewayError(apperrors.ErrCodeNetworkFailure, msg, true, err)
}

func statusError(err apperrors.DomainError, status int, body []byte) error {
	return apperrors.WithHTTP(err, status, serverMessage(body))
}

// serverMessage prefers the envelope message and falls back to the raw body.
func serverMessage(body []byte) string {
	var errBody api.ErrorBody
	if err := json.Unmarshal(body, &errBody); err == nil && errBody.Text() != "" {
		return errBody.Text()
	}
	raw := strings.TrimSpace(string(body))
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	return raw
}

func bearer(token string) http.Header {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return header
}
