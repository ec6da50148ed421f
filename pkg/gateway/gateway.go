// Package gateway issues the durable mutation and read requests for one
// document. Every call is a single request/response round trip against the
// persistence backend; the gateway owns no tree state and never mutates
// the store itself. Failures surface as typed errors and leave local state
// untouched: the store only changes from an explicit success or a remote
// event.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mindweave/mindweave.go/pkg/logger"
	"github.com/mindweave/mindweave.go/pkg/nodes"
)

const (
	csrfCookieName = "csrftoken"
	csrfHeaderName = "X-CSRFToken"
)

// RequestError is the typed failure of a gateway call: either a transport
// error (Status zero, Err set) or a non-2xx response with the server's
// message. The caller decides whether to retry.
type RequestError struct {
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request failed: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Upload is an optional file part attached to a node creation. Field is
// the backend's part name, today "image" or "attachment".
type Upload struct {
	Field   string
	Name    string
	Content io.Reader
}

// Change is one entry of an ordered batch. Order is significant and
// preserved on the wire: a move may depend on a create earlier in the same
// batch.
type Change struct {
	Action    nodes.Action `json:"action"`
	NodeUID   string       `json:"node_uid,omitempty"`
	NodeData  nodes.Patch  `json:"node_data,omitempty"`
	ParentUID string       `json:"parent_uid,omitempty"`
}

// Client talks to the backend for a single project. The zero value is not
// usable; construct with New.
//
// Requests carry the session cookie jar plus, on state-changing verbs, the
// backend's cross-site-request-forgery token, bootstrapped once per client.
type Client struct {
	baseURL   string
	projectID string
	http      *http.Client
	logger    logger.Logger

	csrfMu    sync.Mutex
	csrfReady bool
}

// New returns a gateway for the given backend root (e.g. "http://host:8000")
// and project. A nil httpClient gets a default with a cookie jar and a
// 10 second timeout.
func New(baseURL, projectID string, httpClient *http.Client, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
		}
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		projectID: projectID,
		http:      httpClient,
		logger:    log,
	}
}

// ProjectID returns the project this gateway is bound to.
func (c *Client) ProjectID() string { return c.projectID }

// --------------------------------------------------
// mutations
// --------------------------------------------------

// CreateNode persists a new node and returns the authoritative
// representation, which may normalize fields or replace the
// client-generated uid. Uploads are attached as multipart file parts.
func (c *Client) CreateNode(ctx context.Context, parentUID string, payload nodes.Patch, uploads ...Upload) (nodes.Node, error) {
	var node nodes.Node

	data, err := json.Marshal(payload)
	if err != nil {
		return node, &RequestError{Err: err}
	}

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	if err := form.WriteField("projectId", c.projectID); err != nil {
		return node, &RequestError{Err: err}
	}
	if err := form.WriteField("data", string(data)); err != nil {
		return node, &RequestError{Err: err}
	}
	if parentUID != "" {
		if err := form.WriteField("parent_uid", parentUID); err != nil {
			return node, &RequestError{Err: err}
		}
	}
	for _, up := range uploads {
		part, err := form.CreateFormFile(up.Field, up.Name)
		if err != nil {
			return node, &RequestError{Err: err}
		}
		if _, err := io.Copy(part, up.Content); err != nil {
			return node, &RequestError{Err: err}
		}
	}
	if err := form.Close(); err != nil {
		return node, &RequestError{Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/mindmaps/nodes/create/", body, form.FormDataContentType())
	if err != nil {
		return node, err
	}
	if err := c.do(req, &node); err != nil {
		return node, err
	}
	return node, nil
}

// UpdateNode persists a partial update and returns the authoritative node.
func (c *Client) UpdateNode(ctx context.Context, uid string, payload nodes.Patch) (nodes.Node, error) {
	var node nodes.Node
	body := map[string]any{
		"node_uid":  uid,
		"projectId": c.projectID,
		"data":      payload,
	}
	req, err := c.newJSONRequest(ctx, http.MethodPut, "/api/mindmaps/nodes/update/", body)
	if err != nil {
		return node, err
	}
	if err := c.do(req, &node); err != nil {
		return node, err
	}
	return node, nil
}

// DeleteNode removes the node; the backend cascades to its subtree.
func (c *Client) DeleteNode(ctx context.Context, uid string) error {
	body := map[string]any{"projectId": c.projectID}
	req, err := c.newJSONRequest(ctx, http.MethodDelete, "/api/mindmaps/nodes/"+uid+"/", body)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// MoveNode re-parents a node. Cycle validation is the store's job and has
// already happened by the time this is called.
func (c *Client) MoveNode(ctx context.Context, uid, newParentUID, oldParentUID string) error {
	body := map[string]any{
		"node_uid":  uid,
		"projectId": c.projectID,
	}
	if newParentUID != "" {
		body["new_parent_uid"] = newParentUID
	}
	if oldParentUID != "" {
		body["old_parent_uid"] = oldParentUID
	}
	req, err := c.newJSONRequest(ctx, http.MethodPut, "/api/mindmaps/nodes/move/", body)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// BatchApply replays an ordered change list server-side, preserving the
// caller-supplied ordering.
func (c *Client) BatchApply(ctx context.Context, changes []Change) error {
	body := map[string]any{
		"projectId": c.projectID,
		"changes":   changes,
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/mindmaps/batch-update/", body)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// --------------------------------------------------
// reads
// --------------------------------------------------

// ListNodes fetches the authoritative flat node list for the initial load.
func (c *Client) ListNodes(ctx context.Context) ([]nodes.Node, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/projects/"+c.projectID+"/nodes/", nil, "")
	if err != nil {
		return nil, err
	}
	var out []nodes.Node
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EditLogs fetches the recent server-owned edit history, newest first.
func (c *Client) EditLogs(ctx context.Context) ([]nodes.EditLogEntry, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/projects/"+c.projectID+"/nodes/logs/", nil, "")
	if err != nil {
		return nil, err
	}
	var out []nodes.EditLogEntry
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserStats fetches the calling user's contribution summary.
func (c *Client) UserStats(ctx context.Context) (nodes.UserStats, error) {
	var out nodes.UserStats
	req, err := c.newRequest(ctx, http.MethodGet, "/api/projects/"+c.projectID+"/nodes/stats/", nil, "")
	if err != nil {
		return out, err
	}
	if err := c.do(req, &out); err != nil {
		return out, err
	}
	return out, nil
}

// --------------------------------------------------
// plumbing
// --------------------------------------------------

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// ensureCSRF bootstraps the anti-forgery cookie once per client. The
// backend sets it on a dedicated endpoint; every mutating request then
// echoes it back in a header.
func (c *Client) ensureCSRF(ctx context.Context) error {
	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()
	if c.csrfReady {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/csrf/", http.NoBody)
	if err != nil {
		return &RequestError{Err: err}
	}
	res, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Err: err}
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body) //nolint:errcheck

	if res.StatusCode >= 400 {
		return &RequestError{Status: res.StatusCode, Message: "csrf bootstrap failed"}
	}
	c.csrfReady = true
	return nil
}

func (c *Client) csrfToken(req *http.Request) string {
	if c.http.Jar == nil {
		return ""
	}
	for _, cookie := range c.http.Jar.Cookies(req.URL) {
		if cookie.Name == csrfCookieName {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	return c.newRequest(ctx, method, path, bytes.NewReader(data), "application/json")
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	if isMutating(method) {
		if err := c.ensureCSRF(ctx); err != nil {
			return nil, err
		}
	}

	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", ulid.Make().String())
	if isMutating(method) {
		if token := c.csrfToken(req); token != "" {
			req.Header.Set(csrfHeaderName, token)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, dest any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return &RequestError{Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		reqErr := &RequestError{Status: res.StatusCode, Message: serverMessage(data)}
		c.logger.Debug("backend rejected request",
			"method", req.Method, "path", req.URL.Path, "status", res.StatusCode)
		return reqErr
	}

	if dest == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return &RequestError{Status: res.StatusCode, Message: "undecodable response body", Err: err}
	}
	return nil
}

// serverMessage digs the human-readable error out of the backend's
// assorted error body shapes.
func serverMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	for _, msg := range []string{body.Error, body.Message, body.Detail} {
		if msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}
