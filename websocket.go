// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsStream presents a WebSocket as a byte stream. Each Write becomes one
// binary message; reads run across message boundaries, so a frame may span
// messages or share one with others.
type wsStream struct {
	ws     *websocket.Conn
	reader io.Reader
}

func newWSStream(ws *websocket.Conn) *wsStream {
	return &wsStream{ws: ws}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			kind, r, err := s.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.ws.Close()
}

func (s *wsStream) SetWriteDeadline(t time.Time) error {
	return s.ws.SetWriteDeadline(t)
}

func (s *wsStream) RemoteAddr() net.Addr {
	return s.ws.RemoteAddr()
}

func dialWebSocket(scheme string) DialFunc {
	return func(ctx context.Context, target string) (io.ReadWriteCloser, error) {
		ws, resp, err := websocket.DefaultDialer.DialContext(ctx, scheme+"://"+target, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return newWSStream(ws), nil
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  readChunkSize,
	WriteBufferSize: readChunkSize,
}

// WebSocketHandler upgrades HTTP requests and serves each resulting
// connection with s, as if it had been accepted by a listener.
func WebSocketHandler(s *Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		s.ServeConn(newWSStream(ws))
	})
}
