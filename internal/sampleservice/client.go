// Package sampleservice is a JSON-RPC 1.1 client for the remote sample
// metadata service.
//
// Calls are never retried: a failed create may still have been applied
// remotely, so every failure surfaces as a *core.RemoteServiceError and the
// batch stops.
package sampleservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/sampleuploader/internal/core"
	"github.com/JonMunkholm/sampleuploader/internal/logging"
)

const (
	serviceName     = "SampleService"
	maxResponseSize = 32 << 20
)

// Client calls the sample service over HTTP.
type Client struct {
	url   string
	token string
	http  *http.Client
	seq   atomic.Uint64
}

var _ core.SampleService = (*Client)(nil)

// New returns a client for the service at url. token is sent when the
// request context carries none.
func New(url, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	Version string `json:"version"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Version string            `json:"version"`
	ID      string            `json:"id"`
	Result  []json.RawMessage `json:"result"`
	Error   *RPCError         `json:"error"`
}

// RPCError is the error object of a JSON-RPC 1.1 response.
type RPCError struct {
	Name    string `json:"name"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"error,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Name, e.Code, e.Message)
}

// notFound reports whether the service rejected the call because the
// sample does not exist.
func (e *RPCError) notFound() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "no such sample") || strings.Contains(msg, "error code 50010")
}

func (c *Client) tokenFor(ctx context.Context) string {
	if t := core.TokenFromContext(ctx); t != "" {
		return t
	}
	return c.token
}

// call invokes SampleService.<method> with params as its only argument
// (none when nil) and decodes the first result element into out when out
// is non-nil.
func (c *Client) call(ctx context.Context, method, sampleID string, params, out any) error {
	fail := func(err error) error {
		return &core.RemoteServiceError{Op: method, SampleID: sampleID, Err: err}
	}

	ps := []any{}
	if params != nil {
		ps = append(ps, params)
	}
	body, err := json.Marshal(rpcRequest{
		Version: "1.1",
		ID:      strconv.FormatUint(c.seq.Add(1), 10),
		Method:  serviceName + "." + method,
		Params:  ps,
	})
	if err != nil {
		return fail(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.tokenFor(ctx); tok != "" {
		req.Header.Set("Authorization", tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fail(fmt.Errorf("read response: %w", err))
	}
	logging.FromContext(ctx).Debug("sample service call",
		"method", method,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	var rpc rpcResponse
	if err := json.Unmarshal(raw, &rpc); err != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fail(errors.New("unauthorized"))
		case http.StatusForbidden:
			return fail(errors.New("forbidden"))
		}
		return fail(fmt.Errorf("http %d: undecodable response: %w", resp.StatusCode, err))
	}
	if rpc.Error != nil {
		if rpc.Error.notFound() {
			return fail(fmt.Errorf("%w: %s", core.ErrSampleNotFound, rpc.Error.Message))
		}
		return fail(rpc.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("http %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if len(rpc.Result) == 0 {
		return fail(errors.New("empty result"))
	}
	if err := json.Unmarshal(rpc.Result[0], out); err != nil {
		return fail(fmt.Errorf("decode result: %w", err))
	}
	return nil
}

type getSampleParams struct {
	ID      string `json:"id"`
	Version int    `json:"version,omitempty"`
}

// GetSample fetches a sample. Version 0 means the latest.
func (c *Client) GetSample(ctx context.Context, id string, version int) (*core.SampleRecord, error) {
	var rec core.SampleRecord
	if err := c.call(ctx, "get_sample", id, getSampleParams{ID: id, Version: version}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

type createSampleParams struct {
	Sample      *core.SampleRecord `json:"sample"`
	PrevVersion *int               `json:"prev_version,omitempty"`
}

type createSampleResult struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// SaveSample creates a sample, or a new version of prev when prev is set.
func (c *Client) SaveSample(ctx context.Context, rec *core.SampleRecord, prev *core.SampleRecord) (core.SavedSampleRef, error) {
	send := *rec
	send.Version, send.SaveDate = 0, 0
	params := createSampleParams{Sample: &send}

	sampleID := ""
	if prev != nil {
		send.ID = prev.ID
		v := prev.Version
		params.PrevVersion = &v
		sampleID = prev.ID
	} else {
		send.ID = ""
	}

	var out createSampleResult
	if err := c.call(ctx, "create_sample", sampleID, params, &out); err != nil {
		return core.SavedSampleRef{}, err
	}
	return core.SavedSampleRef{ID: out.ID, Name: rec.Name, Version: out.Version}, nil
}

type updateACLParams struct {
	ID     string   `json:"id"`
	Admin  []string `json:"admin"`
	Writer []string `json:"write"`
	Reader []string `json:"read"`
}

// UpdateACL replaces the sample's principal lists.
func (c *Client) UpdateACL(ctx context.Context, id string, acl core.ACL) error {
	return c.call(ctx, "update_sample_acls", id, updateACLParams{
		ID:     id,
		Admin:  nonNil(acl.Admin),
		Writer: nonNil(acl.Writer),
		Reader: nonNil(acl.Reader),
	}, nil)
}

// Status calls the service's status method.
func (c *Client) Status(ctx context.Context) error {
	return c.call(ctx, "status", "", nil, nil)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
