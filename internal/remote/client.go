// Package remote reaches a notes server over HTTP and WebSocket. Client
// satisfies the transport the reconciliation loop needs.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/serroba/online-notes/internal/acl"
	"github.com/serroba/online-notes/internal/api"
	"github.com/serroba/online-notes/internal/auth"
	"github.com/serroba/online-notes/internal/collab"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"go.uber.org/zap"
)

// DefaultTimeout bounds each HTTP request.
const DefaultTimeout = 10 * time.Second

// Config holds the settings of a Client.
type Config struct {
	BaseURL    string       // e.g. http://localhost:8080
	Token      string       // Bearer token; empty sends none
	UserID     string       // Sent as X-User-Id when Token is empty
	HTTPClient *http.Client // Defaults to a client with DefaultTimeout
	Logger     *zap.Logger
}

// Client calls the notes API.
type Client struct {
	base   *url.URL
	token  string
	userID string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a client for the server at cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		base:   base,
		token:  cfg.Token,
		userID: cfg.UserID,
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
	}, nil
}

// CreateDocument creates an empty document and returns its id.
func (c *Client) CreateDocument(ctx context.Context) (string, error) {
	var resp api.CreateDocumentResponse
	if err := c.call(ctx, http.MethodPost, "/documents", nil, nil, &resp); err != nil {
		return "", err
	}

	return resp.DocID, nil
}

// GetDocumentAndVersion fetches a snapshot and the version it reflects.
func (c *Client) GetDocumentAndVersion(ctx context.Context, docID string) (collab.DocumentState, error) {
	var state collab.DocumentState
	err := c.call(ctx, http.MethodGet, docPath(docID), nil, nil, &state)

	return state, err
}

// OperationsSince lists committed operations after version.
func (c *Client) OperationsSince(ctx context.Context, docID string, version int) ([]ot.SequencedOperation, error) {
	query := url.Values{"since": []string{strconv.Itoa(version)}}

	var resp api.OperationsResponse
	if err := c.call(ctx, http.MethodGet, docPath(docID)+"/operations", query, nil, &resp); err != nil {
		return nil, err
	}

	return resp.Operations, nil
}

// SubmitOperations submits a batch based on version.
func (c *Client) SubmitOperations(ctx context.Context, docID, clientID string, version int, ops []string) (collab.Outcome, error) {
	req := api.SubmitRequest{ClientID: clientID, Version: version, Operations: ops}

	var resp api.SubmitResponse
	if err := c.call(ctx, http.MethodPost, docPath(docID)+"/operations", nil, req, &resp); err != nil {
		return 0, err
	}

	return resp.Status, nil
}

// Verify asks the server to replay the document's log. It returns an error
// wrapping storage.ErrDiverged when the snapshot does not match.
func (c *Client) Verify(ctx context.Context, docID string) error {
	return c.call(ctx, http.MethodGet, docPath(docID)+"/verify", nil, nil, nil)
}

// Grant gives userID a role on docID.
func (c *Client) Grant(ctx context.Context, docID, userID string, role acl.Role) error {
	path := docPath(docID) + "/permissions/" + url.PathEscape(userID)

	return c.call(ctx, http.MethodPut, path, nil, api.GrantRequest{Role: role}, nil)
}

// Revoke removes userID's permission on docID.
func (c *Client) Revoke(ctx context.Context, docID, userID string) error {
	path := docPath(docID) + "/permissions/" + url.PathEscape(userID)

	return c.call(ctx, http.MethodDelete, path, nil, nil, nil)
}

func docPath(docID string) string {
	return "/documents/" + url.PathEscape(docID)
}

func (c *Client) authorize(header http.Header) {
	switch {
	case c.token != "":
		header.Set("Authorization", "Bearer "+c.token)
	case c.userID != "":
		header.Set("X-User-Id", c.userID)
	}
}

// call sends one request and decodes a JSON reply into out when it is set.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}

	return nil
}

// responseError maps an error reply back to the sentinel it came from.
func responseError(resp *http.Response) error {
	var body api.ErrorResponse

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}

	var sentinel error

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		sentinel = auth.ErrUnauthenticated
	case http.StatusForbidden:
		sentinel = acl.ErrForbidden
	case http.StatusNotFound:
		sentinel = storage.ErrDocumentNotFound
		if strings.Contains(body.Error, acl.ErrPermissionNotFound.Error()) {
			sentinel = acl.ErrPermissionNotFound
		}
	case http.StatusConflict:
		sentinel = storage.ErrDiverged
		if strings.Contains(body.Error, acl.ErrLastOwner.Error()) {
			sentinel = acl.ErrLastOwner
		}
	default:
		return fmt.Errorf("server returned %s: %s", resp.Status, body.Error)
	}

	return errors.Join(sentinel, fmt.Errorf("server: %s", body.Error))
}
