// pkg/wazuh/client.go
//
// Client for the Wazuh manager REST API (authentication, agents, legacy
// vulnerability inventory) and the Wazuh indexer search API
// (wazuh-states-vulnerabilities-*, wazuh-alerts-*).

package wazuh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/httpclient"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-version"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	// AgentPageSize matches the manager's documented page limit.
	AgentPageSize = 500

	DefaultVulnerabilityIndex = "wazuh-states-vulnerabilities-*"
	DefaultAlertIndex         = "wazuh-alerts-*"

	// maxResultWindow is the indexer's default index.max_result_window.
	maxResultWindow = 10000
	searchPageSize  = 1000
	maxErrorBody    = 4096
)

// IndexerVersion is the first manager release whose vulnerability state
// lives only in the indexer.
var IndexerVersion = version.Must(version.NewVersion("4.8.0"))

// Endpoint is a connection with its secrets resolved for one pass.
type Endpoint struct {
	ManagerURL      string
	ManagerUser     string
	ManagerPassword string

	IndexerURL      string
	IndexerUser     string
	IndexerPassword string
}

// EndpointFor builds an Endpoint from a stored connection and its
// decrypted passwords.
func EndpointFor(conn *inventory.Connection, apiPassword, indexerPassword string) Endpoint {
	return Endpoint{
		ManagerURL:      conn.ManagerBase(),
		ManagerUser:     conn.APIUsername,
		ManagerPassword: apiPassword,
		IndexerURL:      conn.IndexerBase(),
		IndexerUser:     conn.IndexerUsername,
		IndexerPassword: indexerPassword,
	}
}

// Client talks to one or more Wazuh deployments over a shared transport.
type Client struct {
	http               *httpclient.Client
	vulnerabilityIndex string
	alertIndex         string
	pageSize           int
}

// Option customizes a Client.
type Option func(*Client)

// WithIndices overrides the indexer index patterns.
func WithIndices(vulnerabilities, alerts string) Option {
	return func(c *Client) {
		if vulnerabilities != "" {
			c.vulnerabilityIndex = vulnerabilities
		}
		if alerts != "" {
			c.alertIndex = alerts
		}
	}
}

// WithSearchPageSize sets the indexer page size.
func WithSearchPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func NewClient(hc *httpclient.Client, opts ...Option) *Client {
	c := &Client{
		http:               hc,
		vulnerabilityIndex: DefaultVulnerabilityIndex,
		alertIndex:         DefaultAlertIndex,
		pageSize:           searchPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate exchanges the manager credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context, ep Endpoint) (string, error) {
	ctx, span := telemetry.Start(ctx, "wazuh.Authenticate", attribute.String("manager", ep.ManagerURL))
	defer span.End()
	logger := otelzap.Ctx(ctx)

	target := ep.ManagerURL + "/security/user/authenticate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return "", &AuthError{URL: target, Err: err}
	}
	req.SetBasicAuth(ep.ManagerUser, ep.ManagerPassword)

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn("Wazuh authentication request failed", zap.String("url", target), zap.Error(err))
		return "", &AuthError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readFault(resp.Body)
		logger.Warn("Wazuh authentication rejected",
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", msg))
		return "", &AuthError{URL: target, Status: resp.StatusCode, Err: cerr.New(msg)}
	}

	var env authEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", &AuthError{URL: target, Err: cerr.Wrap(err, "decode token response")}
	}
	if env.Data.Token == "" {
		return "", &AuthError{URL: target, Err: cerr.New("no token received")}
	}

	logger.Debug("Authenticated against Wazuh manager", zap.String("manager", ep.ManagerURL))
	return env.Data.Token, nil
}

// ManagerVersion reads the manager API version from GET /.
func (c *Client) ManagerVersion(ctx context.Context, ep Endpoint, token string) (*version.Version, error) {
	var info infoEnvelope
	if err := c.managerGet(ctx, ep, token, "manager info", "/", nil, &info); err != nil {
		return nil, err
	}
	v, err := version.NewVersion(strings.TrimPrefix(info.Data.APIVersion, "v"))
	if err != nil {
		return nil, &APIError{Op: "manager info", Message: fmt.Sprintf("unparsable api_version %q", info.Data.APIVersion), Err: err}
	}
	return v, nil
}

// FetchAgents pages through GET /agents. An empty list is a valid result.
func (c *Client) FetchAgents(ctx context.Context, ep Endpoint, token string) ([]AgentDTO, error) {
	ctx, span := telemetry.Start(ctx, "wazuh.FetchAgents", attribute.String("manager", ep.ManagerURL))
	defer span.End()

	var agents []AgentDTO
	for offset := 0; ; {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(AgentPageSize))
		q.Set("offset", fmt.Sprint(offset))

		var env managerEnvelope[AgentDTO]
		if err := c.managerGet(ctx, ep, token, "fetch agents", "/agents", q, &env); err != nil {
			return nil, err
		}
		agents = append(agents, env.Data.AffectedItems...)
		offset += len(env.Data.AffectedItems)
		if len(env.Data.AffectedItems) == 0 || offset >= env.Data.TotalAffectedItems {
			break
		}
	}

	otelzap.Ctx(ctx).Debug("Fetched agents", zap.Int("count", len(agents)))
	return agents, nil
}

// FetchVulnerabilities returns the vulnerability state of each agent. Managers
// older than IndexerVersion are read through the legacy manager endpoint;
// newer ones through the indexer.
func (c *Client) FetchVulnerabilities(ctx context.Context, ep Endpoint, token string, agentIDs []string) (Batch[VulnerabilityHit], error) {
	ctx, span := telemetry.Start(ctx, "wazuh.FetchVulnerabilities", attribute.Int("agents", len(agentIDs)))
	defer span.End()

	var out Batch[VulnerabilityHit]
	if len(agentIDs) == 0 {
		return out, nil
	}

	v, err := c.ManagerVersion(ctx, ep, token)
	if err != nil {
		return out, err
	}
	if v.LessThan(IndexerVersion) {
		otelzap.Ctx(ctx).Debug("Using legacy vulnerability endpoint", zap.String("manager_version", v.String()))
		return c.fetchLegacyVulnerabilities(ctx, ep, token, agentIDs)
	}
	if ep.IndexerURL == "" {
		return out, &APIError{Op: "fetch vulnerabilities", Message: "manager " + v.String() + " requires an indexer URL"}
	}

	for _, id := range agentIDs {
		query := map[string]any{
			"sort": []any{idOrder},
			"query": map[string]any{
				"bool": map[string]any{
					"filter": []any{
						map[string]any{"term": map[string]any{"agent.id": id}},
					},
				},
			},
		}
		hits, truncated, err := c.search(ctx, ep, c.vulnerabilityIndex, query)
		if err != nil {
			return out, err
		}
		if truncated {
			out.markTruncated(id)
		}
		for _, h := range hits {
			var vh VulnerabilityHit
			if err := json.Unmarshal(h.Source, &vh); err != nil {
				otelzap.Ctx(ctx).Warn("Skipping undecodable vulnerability document", zap.String("id", h.ID), zap.Error(err))
				continue
			}
			vh.Key = h.ID
			if vh.Agent.ID == "" {
				vh.Agent.ID = id
			}
			out.Items = append(out.Items, vh)
		}
	}
	return out, nil
}

func (c *Client) fetchLegacyVulnerabilities(ctx context.Context, ep Endpoint, token string, agentIDs []string) (Batch[VulnerabilityHit], error) {
	var out Batch[VulnerabilityHit]
	for _, id := range agentIDs {
		for offset := 0; ; {
			q := url.Values{}
			q.Set("limit", fmt.Sprint(AgentPageSize))
			q.Set("offset", fmt.Sprint(offset))

			var env managerEnvelope[legacyVulnerability]
			if err := c.managerGet(ctx, ep, token, "fetch vulnerabilities", "/vulnerability/"+url.PathEscape(id), q, &env); err != nil {
				return out, err
			}
			for _, item := range env.Data.AffectedItems {
				out.Items = append(out.Items, item.hit(id))
			}
			offset += len(env.Data.AffectedItems)
			if len(env.Data.AffectedItems) == 0 || offset >= env.Data.TotalAffectedItems {
				break
			}
		}
	}
	return out, nil
}

// FetchAlerts returns alerts raised by the given agents at or after since.
func (c *Client) FetchAlerts(ctx context.Context, ep Endpoint, agentIDs []string, since time.Time) (Batch[AlertHit], error) {
	sinceStr := since.UTC().Format(time.RFC3339)
	ctx, span := telemetry.Start(ctx, "wazuh.FetchAlerts",
		attribute.Int("agents", len(agentIDs)),
		attribute.String("since", sinceStr))
	defer span.End()

	var out Batch[AlertHit]
	if len(agentIDs) == 0 {
		return out, nil
	}
	if ep.IndexerURL == "" {
		return out, &APIError{Op: "fetch alerts", Message: "no indexer URL configured"}
	}

	for _, id := range agentIDs {
		query := map[string]any{
			"sort": []any{map[string]any{"timestamp": map[string]any{"order": "asc"}}, idOrder},
			"query": map[string]any{
				"bool": map[string]any{
					"filter": []any{
						map[string]any{"term": map[string]any{"agent.id": id}},
						map[string]any{"range": map[string]any{"timestamp": map[string]any{"gte": sinceStr}}},
					},
				},
			},
		}
		hits, truncated, err := c.search(ctx, ep, c.alertIndex, query)
		if err != nil {
			return out, err
		}
		if truncated {
			out.markTruncated(id)
		}
		for _, h := range hits {
			var ah AlertHit
			if err := json.Unmarshal(h.Source, &ah); err != nil {
				otelzap.Ctx(ctx).Warn("Skipping undecodable alert document", zap.String("id", h.ID), zap.Error(err))
				continue
			}
			ah.Key = h.ID
			if ah.Agent.ID == "" {
				ah.Agent.ID = id
			}
			out.Items = append(out.Items, ah)
		}
	}
	return out, nil
}

// idOrder is the final sort key of every search so that from/size pages
// neither repeat nor skip documents.
var idOrder = map[string]any{"_id": map[string]any{"order": "asc"}}

// search pages through an index with from/size until every hit is read or
// the result window is exhausted, in which case truncated is true.
func (c *Client) search(ctx context.Context, ep Endpoint, index string, query map[string]any) ([]searchHit, bool, error) {
	var hits []searchHit
	for from := 0; ; {
		if from+c.pageSize > maxResultWindow {
			return hits, true, nil
		}
		body := make(map[string]any, len(query)+3)
		for k, v := range query {
			body[k] = v
		}
		body["from"] = from
		body["size"] = c.pageSize
		body["track_total_hits"] = true

		var env searchEnvelope
		if err := c.indexerPost(ctx, ep, index+"/_search", body, &env); err != nil {
			return nil, false, err
		}
		hits = append(hits, env.Hits.Hits...)
		from += len(env.Hits.Hits)
		if len(env.Hits.Hits) == 0 || from >= env.Hits.Total.Value {
			return hits, false, nil
		}
	}
}

func (c *Client) managerGet(ctx context.Context, ep Endpoint, token, op, path string, q url.Values, out any) error {
	target := ep.ManagerURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &APIError{Op: op, Message: err.Error(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *Client) indexerPost(ctx context.Context, ep Endpoint, path string, body any, out any) error {
	op := "search " + strings.TrimSuffix(path, "/_search")
	raw, err := json.Marshal(body)
	if err != nil {
		return &APIError{Op: op, Message: "encode query", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.IndexerURL+"/"+path, bytes.NewReader(raw))
	if err != nil {
		return &APIError{Op: op, Message: err.Error(), Err: err}
	}
	req.SetBasicAuth(ep.IndexerUser, ep.IndexerPassword)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Op: op, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, Status: resp.StatusCode, Message: readFault(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: op, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// readFault extracts a short message from an error body.
func readFault(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var f managerFault
	if json.Unmarshal(raw, &f) == nil && (f.Title != "" || f.Detail != "") {
		if f.Detail == "" {
			return f.Title
		}
		return strings.TrimSpace(f.Title + ": " + f.Detail)
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "empty response body"
	}
	return msg
}
