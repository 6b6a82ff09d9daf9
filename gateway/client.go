// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

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

	"github.com/gorilla/rpc/v2/json2"
	"github.com/rs/zerolog"
)

const (
	defaultRetries   = 3
	defaultRetryWait = 500 * time.Millisecond
	requestTimeout   = 30 * time.Second
)

// ClientOption configures SendJSONRequest and Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	log         zerolog.Logger
	headers     http.Header
	queryParams url.Values
	retries     int
	retryWait   time.Duration
}

func newClientOptions(opts []ClientOption) *clientOptions {
	o := &clientOptions{
		log:         zerolog.Nop(),
		headers:     make(http.Header),
		queryParams: make(url.Values),
		retries:     defaultRetries,
		retryWait:   defaultRetryWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(o *clientOptions) { o.log = l }
}

func WithHeader(key, value string) ClientOption {
	return func(o *clientOptions) { o.headers.Add(key, value) }
}

func WithQueryParam(key, value string) ClientOption {
	return func(o *clientOptions) { o.queryParams.Add(key, value) }
}

// WithRetries sets how many attempts are made on transient transport
// errors and the wait before the second one. The wait doubles per attempt.
func WithRetries(attempts int, wait time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.retries = max(attempts, 1)
		o.retryWait = wait
	}
}

// newHTTPClient creates a fresh HTTP client with connection reuse disabled.
// A peer restarting behind the gateway otherwise surfaces as EOF on a
// pooled connection.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body so the
// connection is not torn down with unread data.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}

// SendJSONRequest issues one JSON-RPC 2.0 call to uri and decodes the
// result into reply. Errors reported by the server come back as
// *json2.Error.
func SendJSONRequest(
	ctx context.Context,
	uri *url.URL,
	method string,
	params any,
	reply any,
	options ...ClientOption,
) error {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}

	ops := newClientOptions(options)
	target := *uri
	if len(ops.queryParams) > 0 {
		target.RawQuery = ops.queryParams.Encode()
	}
	log := ops.log.With().Str("method", method).Str("uri", target.String()).Logger()

	var lastErr error
	for attempt := 0; attempt < ops.retries; attempt++ {
		if attempt > 0 {
			wait := ops.retryWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		// the body reader is consumed by each attempt
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		request.Header = ops.headers.Clone()
		request.Header.Set("Content-Type", "application/json")

		resp, err := newHTTPClient().Do(request)
		if err != nil {
			lastErr = err
			retry := isRetryableError(err) && ctx.Err() == nil
			log.Debug().Int("attempt", attempt+1).Bool("retryable", retry).Err(err).Msg("request failed")
			if retry {
				continue
			}
			return fmt.Errorf("failed to issue request: %w", err)
		}
		if attempt > 0 {
			log.Debug().Int("attempt", attempt+1).Msg("request succeeded after retry")
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = CleanlyCloseBody(resp.Body)
			return fmt.Errorf("received status code: %d", resp.StatusCode)
		}

		err = json2.DecodeClientResponse(resp.Body, reply)
		_ = CleanlyCloseBody(resp.Body)
		if err != nil {
			var rpcErr *json2.Error
			if errors.As(err, &rpcErr) {
				return rpcErr
			}
			return fmt.Errorf("failed to decode client response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to issue request after %d attempts: %w", ops.retries, lastErr)
}

// Client calls the Link service of a gateway.
type Client struct {
	uri  *url.URL
	opts []ClientOption
}

// NewClient returns a client for the gateway at base, e.g.
// "http://127.0.0.1:8780". The /rpc path is added when base has no path.
func NewClient(base string, opts ...ClientOption) (*Client, error) {
	uri, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse %q: %w", base, err)
	}
	if uri.Path == "" || uri.Path == "/" {
		uri.Path = "/rpc"
	}
	return &Client{uri: uri, opts: opts}, nil
}

// Call sends the packet tagged tag, built from body, and returns the
// peer's response.
func (c *Client) Call(ctx context.Context, tag string, body json.RawMessage) (PacketReply, error) {
	var reply PacketReply
	err := SendJSONRequest(ctx, c.uri, ServiceName+".Call", PacketArgs{Tag: tag, Body: body}, &reply, c.opts...)
	return reply, err
}

func (c *Client) Send(ctx context.Context, tag string, body json.RawMessage) error {
	var reply EmptyReply
	return SendJSONRequest(ctx, c.uri, ServiceName+".Send", PacketArgs{Tag: tag, Body: body}, &reply, c.opts...)
}

func (c *Client) Tags(ctx context.Context) ([]string, error) {
	var reply TagsReply
	err := SendJSONRequest(ctx, c.uri, ServiceName+".Tags", EmptyArgs{}, &reply, c.opts...)
	return reply.Tags, err
}
