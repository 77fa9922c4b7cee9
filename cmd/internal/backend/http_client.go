package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"podium/cmd/internal/challenge"
	v1 "podium/shared/contracts/debate/v1"
)

const maxResponseBytes = 1 << 20

// HTTPClient reaches a podium API over HTTP. It implements Collaborator.
type HTTPClient struct {
	base  *url.URL
	http  *http.Client
	token string
}

var _ Collaborator = (*HTTPClient)(nil)

// NewHTTPClient targets baseURL (e.g. "http://localhost:8080"). A nil hc gets a 10s timeout client.
func NewHTTPClient(baseURL string, hc *http.Client) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, OpError{Op: "backend.NewHTTPClient", Kind: ErrInvalidInput, Msg: "base url must be http(s)://host"}
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{base: u, http: hc}, nil
}

// WithToken returns a copy that authenticates as the holder of tok.
func (c *HTTPClient) WithToken(tok string) *HTTPClient {
	cp := *c
	cp.token = tok
	return &cp
}

func (c *HTTPClient) Login(ctx context.Context, username, pw string, role v1.Role) (v1.LoginResponse, error) {
	var out v1.LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", v1.LoginRequest{Username: username, Password: pw, Role: role}, &out)
	return out, err
}

func (c *HTTPClient) FetchDebate(ctx context.Context, id string) (v1.Debate, error) {
	var out v1.Debate
	if err := c.do(ctx, http.MethodGet, "/debates/"+url.PathEscape(id), nil, &out); err != nil {
		return v1.Debate{}, err
	}
	return out, nil
}

func (c *HTTPClient) ListDebates(ctx context.Context) ([]v1.Debate, error) {
	var out []v1.Debate
	err := c.do(ctx, http.MethodGet, "/debates", nil, &out)
	return out, err
}

func (c *HTTPClient) JoinDebate(ctx context.Context, id string, p v1.Participant) error {
	return c.do(ctx, http.MethodPost, "/debates/"+url.PathEscape(id)+"/join", v1.JoinRequest{Position: p.Position}, nil)
}

func (c *HTTPClient) MessagesForDebate(ctx context.Context, id string) ([]v1.Message, error) {
	var out []v1.Message
	err := c.do(ctx, http.MethodGet, "/debates/"+url.PathEscape(id)+"/messages", nil, &out)
	return out, err
}

// CreateChallenge posts as the token holder; challenger is informational.
func (c *HTTPClient) CreateChallenge(ctx context.Context, _ v1.UserRef, topicID string, pos v1.Position) (v1.Challenge, error) {
	var out v1.Challenge
	err := c.do(ctx, http.MethodPost, "/challenges", v1.CreateChallengeRequest{TopicID: topicID, Position: pos}, &out)
	return out, err
}

func (c *HTTPClient) AcceptChallenge(ctx context.Context, id string) (v1.AcceptChallengeResponse, error) {
	var out v1.AcceptChallengeResponse
	err := c.do(ctx, http.MethodPost, "/challenges/"+url.PathEscape(id)+"/accept", nil, &out)
	return out, err
}

func (c *HTTPClient) ListTopics(ctx context.Context) ([]v1.Topic, error) {
	var out []v1.Topic
	err := c.do(ctx, http.MethodGet, "/topics", nil, &out)
	return out, err
}

func (c *HTTPClient) ListChallenges(ctx context.Context) ([]v1.Challenge, error) {
	var out []v1.Challenge
	err := c.do(ctx, http.MethodGet, "/challenges", nil, &out)
	return out, err
}

func (c *HTTPClient) ListUsers(ctx context.Context, role v1.Role) ([]v1.User, error) {
	path := "/users"
	if role != "" {
		path += "?role=" + url.QueryEscape(string(role))
	}
	var out []v1.User
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, dst any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return decodeAPIError(method+" "+path, resp.StatusCode, raw)
	}
	if dst == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// decodeAPIError maps an error response back onto this package's sentinels.
func decodeAPIError(op string, status int, raw []byte) error {
	var er v1.ErrorResponse
	_ = json.Unmarshal(raw, &er)

	switch er.Error.Code {
	case v1.CodeRoomNotFound:
		return NotFoundError{Op: op, Resource: "debate"}
	case v1.CodeTopicMissing:
		return challenge.ErrTopicNotFound
	}

	var kind error
	switch status {
	case http.StatusBadRequest:
		kind = ErrInvalidInput
	case http.StatusUnauthorized:
		kind = ErrUnauthorized
	case http.StatusForbidden:
		kind = ErrForbidden
	case http.StatusNotFound:
		kind = ErrNotFound
	case http.StatusConflict:
		kind = ErrConflict
	default:
		kind = errors.New(http.StatusText(status))
	}
	return OpError{Op: op, Kind: kind, Msg: er.Error.Message}
}
