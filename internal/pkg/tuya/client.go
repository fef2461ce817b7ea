package tuya

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

const (
	signMethod    = "HMAC-SHA256"
	tokenPath     = "/v1.0/token"
	tokenLeeway   = time.Minute
	clientTimeout = 10 * time.Second
)

// Endpoints are tried in order when no endpoint is configured.
var Endpoints = []string{
	"https://openapi.tuyaus.com",
	"https://openapi.tuyacn.com",
}

type Client struct {
	endpoint     string
	accessID     string
	accessSecret string
	httpClient   *http.Client
	now          func() time.Time
	nonce        func() string

	mu    sync.Mutex
	token token
}

type token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireTime   int64  `json:"expire_time"`
	UID          string `json:"uid"`
	expiresAt    time.Time
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
	T       int64           `json:"t"`
}

func NewClient(endpoint, accessID, accessSecret string) (*Client, error) {
	if accessID == "" || accessSecret == "" {
		return nil, ErrCredentialsMissing
	}

	return &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		accessID:     accessID,
		accessSecret: accessSecret,
		httpClient:   &http.Client{Timeout: clientTimeout},
		now:          time.Now,
		nonce: func() string {
			u, _ := uuid.NewV4()
			return u.String()
		},
	}, nil
}

// Dial returns a client bound to the first endpoint that grants a token.
func Dial(ctx context.Context, endpoints []string, accessID, accessSecret string) (*Client, error) {
	if len(endpoints) == 0 {
		endpoints = Endpoints
	}

	lastErr := ErrNoEndpoint
	for _, e := range endpoints {
		c, err := NewClient(e, accessID, accessSecret)
		if err != nil {
			return nil, err
		}

		if err := c.Connect(ctx); err != nil {
			lastErr = fmt.Errorf("connecting to %s: %w", e, err)
			continue
		}
		return c, nil
	}
	return nil, lastErr
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// UID is the user id the access token was granted for.
func (c *Client) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.UID
}

// Connect fetches a fresh access token.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grantToken(ctx)
}

func (c *Client) grantToken(ctx context.Context) error {
	q := url.Values{}
	q.Set("grant_type", "1")
	var t token
	if err := c.send(ctx, http.MethodGet, tokenPath, q, nil, "", &t); err != nil {
		return fmt.Errorf("getting token: %w", err)
	}
	c.setToken(t)
	return nil
}

func (c *Client) refreshToken(ctx context.Context) error {
	if c.token.RefreshToken == "" {
		return c.grantToken(ctx)
	}

	var t token
	err := c.send(ctx, http.MethodGet, tokenPath+"/"+c.token.RefreshToken, nil, nil, "", &t)
	if err != nil {
		// refresh tokens expire too, start over
		return c.grantToken(ctx)
	}
	c.setToken(t)
	return nil
}

func (c *Client) setToken(t token) {
	t.expiresAt = c.now().Add(time.Duration(t.ExpireTime) * time.Second)
	c.token = t
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.token.AccessToken == "":
		if err := c.grantToken(ctx); err != nil {
			return "", err
		}
	case c.now().Add(tokenLeeway).After(c.token.expiresAt):
		if err := c.refreshToken(ctx); err != nil {
			return "", err
		}
	}
	return c.token.AccessToken, nil
}

func (c *Client) invalidateToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshToken(ctx); err != nil {
		return "", err
	}
	return c.token.AccessToken, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.request(ctx, http.MethodGet, path, nil, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.request(ctx, http.MethodPost, path, nil, body, out)
}

// request performs a business call. An invalid token is refreshed and the
// call retried once.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		payload = b
	}

	at, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	err = c.send(ctx, method, path, query, payload, at, out)
	if !isCode(err, codeTokenInvalid) {
		return err
	}

	at, err = c.invalidateToken(ctx)
	if err != nil {
		return err
	}

	err = c.send(ctx, method, path, query, payload, at, out)
	if isCode(err, codeTokenInvalid) {
		return fmt.Errorf("%s %s: %w", method, path, ErrTokenInvalid)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, accessToken string, out interface{}) error {
	t := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := c.nonce()
	sts := stringToSign(method, path, query, payload)

	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("client_id", c.accessID)
	req.Header.Set("sign", sign(c.accessID, accessToken, t, nonce, sts, c.accessSecret))
	req.Header.Set("sign_method", signMethod)
	req.Header.Set("t", t)
	req.Header.Set("nonce", nonce)
	req.Header.Set("lang", "en")
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("access_token", accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decoding response envelope: %w", err)
	}

	if !env.Success {
		apiErr := &APIError{Code: env.Code, Msg: env.Msg}
		if env.Code == codeSignInvalid {
			return fmt.Errorf("%w: %w", ErrSignInvalid, apiErr)
		}
		return apiErr
	}

	if out == nil || len(env.Result) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(env.Result))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decoding %s result: %w", path, err)
	}
	return nil
}

func isCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// stringToSign is METHOD, body digest, signed headers (none) and the path
// with its query sorted by key, newline separated.
func stringToSign(method, path string, query url.Values, payload []byte) string {
	digest := sha256.Sum256(payload)

	u := path
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+query.Get(k))
		}
		u += "?" + strings.Join(pairs, "&")
	}

	return strings.Join([]string{method, hex.EncodeToString(digest[:]), "", u}, "\n")
}

func sign(accessID, accessToken, t, nonce, stringToSign, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(accessID + accessToken + t + nonce + stringToSign))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
