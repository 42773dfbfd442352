// pkg/glpi/client.go
//
// Client for the GLPI REST API (apirest.php): session handling, ticket
// creation and item links. It is the external ticketing host.

package glpi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/httpclient"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/ticketing"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const maxErrorBody = 4096

// Config holds the REST endpoint and tokens. URL points at apirest.php.
type Config struct {
	URL       string `mapstructure:"url" yaml:"url,omitempty" validate:"required,url"`
	AppToken  string `mapstructure:"app_token" yaml:"app_token,omitempty"`
	UserToken string `mapstructure:"user_token" yaml:"user_token,omitempty" validate:"required"`
}

// Error is a non-2xx answer. GLPI reports errors as ["CODE", "message"].
type Error struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("glpi %s: HTTP %d %s: %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("glpi %s: HTTP %d: %s", e.Op, e.Status, e.Message)
}

// Client is safe for concurrent use; all calls share one session.
type Client struct {
	http *httpclient.Client
	cfg  Config

	mu      sync.Mutex
	session string
}

var _ ticketing.Host = (*Client)(nil)

func NewClient(hc *httpclient.Client, cfg Config) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{http: hc, cfg: cfg}
}

// CreateTicket posts a Ticket and returns its id.
func (c *Client) CreateTicket(ctx context.Context, in ticketing.TicketInput) (uint, error) {
	var out struct {
		ID      uint   `json:"id"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "create ticket", "/Ticket", in, &out); err != nil {
		return 0, err
	}
	if out.ID == 0 {
		return 0, cerr.Newf("glpi create ticket: no id in response (%s)", out.Message)
	}
	otelzap.Ctx(ctx).Debug("GLPI ticket created", zap.Uint("ticket_id", out.ID))
	return out.ID, nil
}

// LinkItem posts an Item_Ticket row.
func (c *Client) LinkItem(ctx context.Context, ticketID uint, itemType string, itemID uint) error {
	in := map[string]any{
		"tickets_id": ticketID,
		"itemtype":   itemType,
		"items_id":   itemID,
	}
	return c.post(ctx, "link item", "/Item_Ticket", in, nil)
}

// Close ends the session if one is open.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	token := c.session
	c.session = ""
	c.mu.Unlock()
	if token == "" {
		return nil
	}
	req, err := c.request(ctx, http.MethodGet, "/killSession", nil, token)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return cerr.Wrap(err, "glpi kill session")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return readError("kill session", resp)
	}
	return nil
}

// post sends {"input": in} and decodes the answer into out. A session that
// expired is renewed once.
func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(map[string]any{"input": in})
	if err != nil {
		return cerr.Wrapf(err, "glpi %s: encode", op)
	}
	for attempt := 0; ; attempt++ {
		token, err := c.sessionToken(ctx)
		if err != nil {
			return err
		}
		req, err := c.request(ctx, http.MethodPost, path, bytes.NewReader(body), token)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return cerr.Wrapf(err, "glpi %s", op)
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.dropSession(token)
			continue
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return readError(op, resp)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return cerr.Wrapf(err, "glpi %s: decode", op)
		}
		return nil
	}
}

func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != "" {
		return c.session, nil
	}

	req, err := c.request(ctx, http.MethodGet, "/initSession", nil, "")
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "user_token "+c.cfg.UserToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", cerr.Wrap(err, "glpi init session")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", readError("init session", resp)
	}
	var out struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", cerr.Wrap(err, "glpi init session: decode")
	}
	if out.SessionToken == "" {
		return "", cerr.New("glpi init session: empty session token")
	}
	c.session = out.SessionToken
	otelzap.Ctx(ctx).Debug("GLPI session opened", zap.String("url", c.cfg.URL))
	return c.session, nil
}

func (c *Client) dropSession(token string) {
	c.mu.Lock()
	if c.session == token {
		c.session = ""
	}
	c.mu.Unlock()
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader, session string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, body)
	if err != nil {
		return nil, cerr.Wrapf(err, "glpi %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AppToken != "" {
		req.Header.Set("App-Token", c.cfg.AppToken)
	}
	if session != "" {
		req.Header.Set("Session-Token", session)
	}
	return req, nil
}

func readError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &Error{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var pair []string
	if json.Unmarshal(raw, &pair) == nil && len(pair) > 0 {
		e.Code = pair[0]
		e.Message = ""
		if len(pair) > 1 {
			e.Message = pair[1]
		}
	}
	return e
}
