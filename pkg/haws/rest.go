package haws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// REST performs a one-off HTTP call against the session's endpoint using
// its token, and routes the reply through the same delivery pipeline as
// WebSocket results. The path includes the api/ prefix. A JSON body is
// sent when body is non-nil.
func (c *Client) REST(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	c.mu.Lock()
	ep := c.ep
	stopped := c.permanent
	c.mu.Unlock()
	if stopped {
		return nil, ErrCancelled
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, &TokenError{Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, merr := json.Marshal(body)
		if merr != nil {
			return nil, fmt.Errorf("haws: rest: encode body: %w", merr)
		}
		reader = bytes.NewReader(data)
	}

	req, err := ep.RESTRequest(ctx, method, path, query, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	ps := c.ctrl.registerREST()
	go c.performREST(ps.id, req)

	select {
	case res := <-ps.ch:
		return res.result, res.err
	case <-ctx.Done():
		c.ctrl.abandon(ps)
		return nil, ctx.Err()
	}
}

// performREST executes the request and feeds the outcome to the response
// controller, which owns classification of HTTP status and content type.
func (c *Client) performREST(id uint64, req *http.Request) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.resp.OnHTTPResponse(id, 0, "", nil, err)
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.resp.OnHTTPResponse(id, 0, "", nil, err)
		return
	}

	c.resp.OnHTTPResponse(id, resp.StatusCode, resp.Header.Get("Content-Type"), data, nil)
}
