// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gateway exposes a packet link over JSON-RPC 2.0 so tools that
// cannot speak the binary protocol can still issue requests. Packets travel
// as {tag, body} pairs where body is the packet's JSON form.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/luxfi/pktlink"
)

// ServiceName is the JSON-RPC service prefix, as in "Link.Call".
const ServiceName = "Link"

// Peer is the side of the link the gateway forwards to. *pktlink.Conn
// satisfies it.
type Peer interface {
	Call(ctx context.Context, req pktlink.Packet) (pktlink.Packet, error)
	Send(ctx context.Context, p pktlink.Packet) error
	Done() <-chan struct{}
}

// PacketArgs names a packet by tag and carries its JSON form.
type PacketArgs struct {
	Tag  string          `json:"tag"`
	Body json.RawMessage `json:"body,omitempty"`
}

// PacketReply is the response packet of Link.Call.
type PacketReply struct {
	Tag  string          `json:"tag"`
	Body json.RawMessage `json:"body"`
}

type EmptyArgs struct{}

type EmptyReply struct{}

type TagsReply struct {
	Tags []string `json:"tags"`
}

// FaultData is attached to the JSON-RPC error when the peer answered with
// a fault.
type FaultData struct {
	Code uint32 `json:"code"`
}

// Service implements the Link JSON-RPC methods.
type Service struct {
	peer Peer
	reg  *pktlink.Registry
	log  zerolog.Logger
}

func (s *Service) Call(r *http.Request, args *PacketArgs, reply *PacketReply) error {
	req, err := s.decode(args)
	if err != nil {
		return err
	}
	resp, err := s.peer.Call(r.Context(), req)
	if err != nil {
		s.log.Debug().Str("tag", args.Tag).Err(err).Msg("call failed")
		return rpcError(err)
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return &json2.Error{Code: json2.E_INTERNAL, Message: err.Error()}
	}
	reply.Tag = resp.Tag()
	reply.Body = body
	return nil
}

func (s *Service) Send(r *http.Request, args *PacketArgs, _ *EmptyReply) error {
	p, err := s.decode(args)
	if err != nil {
		return err
	}
	if err := s.peer.Send(r.Context(), p); err != nil {
		return rpcError(err)
	}
	return nil
}

func (s *Service) Tags(_ *http.Request, _ *EmptyArgs, reply *TagsReply) error {
	reply.Tags = s.reg.Tags()
	return nil
}

func (s *Service) decode(args *PacketArgs) (pktlink.Packet, error) {
	body := args.Body
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	p, err := s.reg.DecodeJSON(args.Tag, body)
	if err != nil {
		return nil, &json2.Error{Code: json2.E_BAD_PARAMS, Message: err.Error()}
	}
	return p, nil
}

func rpcError(err error) error {
	var remote *pktlink.RemoteError
	if errors.As(err, &remote) {
		return &json2.Error{
			Code:    json2.E_SERVER,
			Message: remote.Message,
			Data:    FaultData{Code: remote.Code},
		}
	}
	return &json2.Error{Code: json2.E_SERVER, Message: err.Error()}
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithGatherer sets the source of /metrics. The default is
// prometheus.DefaultGatherer.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(g *Gateway) { g.gatherer = gatherer }
}

// Gateway routes HTTP requests to the Link service.
type Gateway struct {
	svc      *Service
	log      zerolog.Logger
	gatherer prometheus.Gatherer
}

func New(peer Peer, reg *pktlink.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		log:      zerolog.Nop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.svc = &Service{peer: peer, reg: reg, log: g.log}
	return g
}

// Handler returns the router serving POST /rpc, GET /healthz and
// GET /metrics.
func (g *Gateway) Handler() (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	if err := server.RegisterService(g.svc, ServiceName); err != nil {
		return nil, fmt.Errorf("gateway: register service: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodPost, "/rpc", server)
	r.Get("/healthz", g.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	return r, nil
}

func (g *Gateway) healthz(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-g.svc.peer.Done():
		http.Error(w, "peer link closed", http.StatusServiceUnavailable)
	default:
		_, _ = w.Write([]byte("ok\n"))
	}
}
