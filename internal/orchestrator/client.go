package orchestrator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTimeout  = 10 * time.Second
	tokenLifetime   = 5 * time.Minute
	maxResponseSize = 8 << 20
)

// ClientConfig controls the HTTP orchestrator client.
type ClientConfig struct {
	BaseURL     string
	Secret      string
	Role        string
	Timeout     time.Duration
	InsecureTLS bool
}

// StatusError is a non-2xx answer from the orchestrator.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("orchestrator %s %s: status %d", e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client is the HTTP implementation of Orchestrator. Every request carries a
// short lived HS256 bearer token signed with the shared secret.
type Client struct {
	baseURL string
	secret  []byte
	role    string
	http    *http.Client
	now     func() time.Time
}

var _ Orchestrator = (*Client)(nil)

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("orchestrator base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid orchestrator base URL: %w", err)
	}
	if cfg.Secret == "" {
		return nil, errors.New("orchestrator secret is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	role := cfg.Role
	if role == "" {
		role = "zync"
	}
	tr := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.InsecureTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  []byte(cfg.Secret),
		role:    role,
		http:    &http.Client{Timeout: timeout, Transport: tr},
		now:     time.Now,
	}, nil
}

func (c *Client) ListChallenges(ctx context.Context) ([]challenge.Challenge, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v1/challenges", "", nil)
	if err != nil {
		return nil, err
	}
	return decodeChallenges(data)
}

func (c *Client) GetChallenge(ctx context.Context, id string) (*challenge.Challenge, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v1/challenges/"+url.PathEscape(id), "", nil)
	if err != nil {
		return nil, err
	}
	return decodeChallenge(data)
}

func (c *Client) StartInstance(ctx context.Context, id string, team challenge.TeamCode) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/challenges/"+url.PathEscape(id)+"/start", team, startRequest{TeamCode: string(team)})
	return err
}

func (c *Client) ResetInstance(ctx context.Context, id string, team challenge.TeamCode, mode ResetMode) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/challenges/"+url.PathEscape(id)+"/reset", team, resetRequest{TeamCode: string(team), Mode: mode})
	return err
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v1/stats", "", nil)
	if err != nil {
		return nil, err
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return &s, nil
}

func (c *Client) do(ctx context.Context, method, path string, team challenge.TeamCode, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	token, err := c.signToken(team)
	if err != nil {
		return nil, fmt.Errorf("sign orchestrator token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("orchestrator %s %s: read body: %w", method, path, err)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusConflict:
		return nil, ErrConflict
	}
	return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: errorMessage(data)}
}

func (c *Client) signToken(team challenge.TeamCode) (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"role": c.role,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenLifetime).Unix(),
	}
	if team != "" {
		claims["team_code"] = string(team)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(c.secret)
}

func errorMessage(data []byte) string {
	var e errorResponse
	if err := json.Unmarshal(data, &e); err == nil && e.Message != "" {
		return e.Message
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
