// Package syncer drives the outbox queue to convergence with the remote
// authority.
package syncer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"

	"tasksync-api/domain"
)

// Remote applies one queued mutation to the remote authority. Apply must be
// safe to invoke at least once per logical intent: the engine re-invokes the
// same intent with the same payload after a failure on a later pass.
type Remote interface {
	Apply(ctx context.Context, op domain.Operation, snap domain.TaskSnapshot, taskID string) error
	Probe(ctx context.Context) bool
}

// RemoteError is an application failure: the remote authority was reachable
// but rejected the operation.
type RemoteError struct {
	Status int
	Reason string
}

func (e *RemoteError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("remote rejected operation (status %d)", e.Status)
	}
	return fmt.Sprintf("remote rejected operation (status %d): %s", e.Status, e.Reason)
}

const remoteErrorBodyLimit = 4 * 1024

// HTTPRemote talks to the remote authority over plain request/response HTTP.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
	signer  *tokenSigner
}

// NewHTTPRemote creates a remote client for baseURL. When secret is
// non-empty, requests carry an HS256 bearer token minted from it.
func NewHTTPRemote(baseURL, secret string, timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	if secret != "" {
		r.signer = &tokenSigner{secret: []byte(secret)}
	}
	return r
}

// Apply sends one mutation. A transport failure is returned as a wrapped
// connectivity error; a non-2xx response as a *RemoteError.
func (r *HTTPRemote) Apply(ctx context.Context, op domain.Operation, snap domain.TaskSnapshot, taskID string) error {
	var method, url string
	switch op {
	case domain.OpCreate:
		method, url = http.MethodPost, r.baseURL+"/v1/tasks"
	case domain.OpUpdate:
		method, url = http.MethodPut, r.baseURL+"/v1/tasks/"+taskID
	case domain.OpDelete:
		method, url = http.MethodDelete, r.baseURL+"/v1/tasks/"+taskID
	default:
		return domain.ErrInvalidOperation
	}

	var body io.Reader
	if op != domain.OpDelete {
		data, err := sonic.ConfigStd.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := r.authorize(req); err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	reason, _ := io.ReadAll(io.LimitReader(resp.Body, remoteErrorBodyLimit))
	return &RemoteError{Status: resp.StatusCode, Reason: strings.TrimSpace(string(reason))}
}

// Probe reports whether the remote authority is reachable. Any HTTP response
// counts as reachable, including 4xx: "reachable but rejected" is not
// "unreachable". Transport failures and timeouts return false.
func (r *HTTPRemote) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/ping", nil)
	if err != nil {
		return false
	}
	if err := r.authorize(req); err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (r *HTTPRemote) authorize(req *http.Request) error {
	if r.signer == nil {
		return nil
	}
	token, err := r.signer.Token()
	if err != nil {
		return fmt.Errorf("mint remote token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

const tokenLifetime = 15 * time.Minute

// tokenSigner mints short-lived HS256 tokens and caches them until close to
// expiry.
type tokenSigner struct {
	secret []byte

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (s *tokenSigner) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.token != "" && now.Before(s.expiresAt.Add(-30*time.Second)) {
		return s.token, nil
	}
	exp := now.Add(tokenLifetime)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "tasksync",
		"iat": now.Unix(),
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	s.token = signed
	s.expiresAt = exp
	return signed, nil
}
