package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"greenbox/internal/model"
	"greenbox/internal/utils/log"
	apperrors "greenbox/pkg/errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const identityHeader = "X-Identity"

type (
	// Client talks to the relay as one authenticated identity. The identity
	// is the principal yielded by the identity-provider login, carried on
	// every call.
	Client struct {
		baseURL  string
		identity string
		httpc    *http.Client
	}

	// Subscription owns the push websocket. Close is idempotent and safe on
	// a zero value, so teardown paths need no established-or-not check.
	Subscription struct {
		conn *websocket.Conn
		once sync.Once
	}
)

func New(baseURL, identity string) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		identity: identity,
		httpc:    http.DefaultClient,
	}
}

func (c *Client) Identity() string { return c.identity }

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(identityHeader, c.identity)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, apperrors.ErrTransport(err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Publish hands one sealed envelope to the relay. A 403 means the relay's
// authorization rules rejected it; the friendship state has to change before
// a retry could succeed.
func (c *Client) Publish(ctx context.Context, env *model.LocationEnvelope) error {
	resp, err := c.do(ctx, http.MethodPost, "/envelopes", env)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return apperrors.ErrAuthorizationDenied
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.ErrAuthorizationDenied
	case resp.StatusCode >= 300:
		return apperrors.ErrTransport(fmt.Errorf("publish returned status %d", resp.StatusCode))
	}
	return nil
}

// GetPublicKey resolves an identity's current public key and profile from
// the directory. A missing identity returns (nil, nil).
func (c *Client) GetPublicKey(ctx context.Context, id string) (*model.Identity, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/identities/%s", url.PathEscape(id)), nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, apperrors.ErrTransport(fmt.Errorf("identity lookup returned status %d", resp.StatusCode))
	}

	var ident model.Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return nil, err
	}
	return &ident, nil
}

func (c *Client) RequestFriendship(ctx context.Context, other string) error {
	resp, err := c.do(ctx, http.MethodPost, "/friendships", map[string]string{"other": other})
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return apperrors.ErrFriendshipExists
	case resp.StatusCode >= 300:
		return apperrors.ErrTransport(fmt.Errorf("friendship request returned status %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) AcceptFriendship(ctx context.Context, other string) error {
	resp, err := c.do(ctx, http.MethodPost, "/friendships/accept", map[string]string{"other": other})
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.ErrFriendshipNotFound
	case resp.StatusCode >= 300:
		return apperrors.ErrTransport(fmt.Errorf("friendship accept returned status %d", resp.StatusCode))
	}
	return nil
}

// Subscribe opens the push channel for this client's identity and invokes fn
// once per inbound envelope until the subscription closes. Only envelopes
// published after the subscription opens are delivered.
func (c *Client) Subscribe(ctx context.Context, fn func(*model.LocationEnvelope)) (*Subscription, error) {
	u, err := url.Parse(c.baseURL + "/subscribe")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set(identityHeader, c.identity)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if resp != nil {
		drain(resp)
	}
	if err != nil {
		return nil, apperrors.ErrTransport(err)
	}

	sub := &Subscription{conn: conn}
	go sub.listen(fn)
	return sub, nil
}

func (s *Subscription) listen(fn func(*model.LocationEnvelope)) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug("subscription web socket closed", zap.Error(err))
			s.Close()
			return
		}

		var env model.LocationEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error("unmarshal envelope failed", zap.Error(err))
			continue
		}

		fn(&env)
	}
}

func (s *Subscription) Close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if s.conn != nil {
			s.conn.Close()
		}
	})
	return nil
}
