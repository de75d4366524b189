package jobs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrERPNotConfigured is returned when erp.base_url is empty.
var ErrERPNotConfigured = errors.New("erp endpoint not configured")

// ERPConfig points the interchange bodies at the ERP gateway.
type ERPConfig struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
}

// ERPError is a non-2xx gateway reply.
type ERPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *ERPError) Error() string {
	msg := e.Method + " " + e.Path + ": http " + strconv.Itoa(e.Status) + " " + http.StatusText(e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// ERPResult is the gateway's reply envelope.
type ERPResult struct {
	OK      bool   `json:"ok"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// ERPClient calls the ERP gateway. Apply may run concurrently with calls.
type ERPClient struct {
	mu   sync.RWMutex
	cfg  ERPConfig
	http *http.Client
}

func NewERPClient(cfg ERPConfig) *ERPClient {
	c := &ERPClient{http: &http.Client{}}
	c.Apply(cfg)
	return c
}

func (c *ERPClient) Apply(cfg ERPConfig) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *ERPClient) config() ERPConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Call issues method to path with the from/to range as query parameters.
func (c *ERPClient) Call(ctx context.Context, method, path, from, to string) (ERPResult, error) {
	cfg := c.config()
	if cfg.BaseURL == "" {
		return ERPResult{}, ErrERPNotConfigured
	}

	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	target := cfg.BaseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	rctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, method, target, nil)
	if err != nil {
		return ERPResult{}, errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ERPResult{}, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return ERPResult{}, errors.Wrapf(err, "read %s %s", method, path)
	}
	if resp.StatusCode/100 != 2 {
		return ERPResult{}, &ERPError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out ERPResult
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return ERPResult{}, errors.Wrapf(err, "decode %s %s", method, path)
		}
	}
	if !out.OK {
		return out, errors.Newf("%s %s rejected: %s", method, path, out.Message)
	}
	return out, nil
}
