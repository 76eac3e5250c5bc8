package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	apperrors "github.com/louisbranch/karaoke.space/internal/platform/errors"
	"github.com/louisbranch/karaoke.space/internal/platform/id"
	"golang.org/x/net/websocket"
)

const (
	maxFrameBytes          = 64 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// NewHandler creates karaoke routes backed by a fresh registry and no archive.
func NewHandler() http.Handler {
	return newHandler(newRouter(nil, nil))
}

func newHandler(rt *router) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, rt)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	if rt.archive != nil {
		registerSummaryRoutes(mux, rt.archive)
	}
	return mux
}

func handleWSConn(conn *websocket.Conn, rt *router) {
	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	connID, err := id.NewID()
	if err != nil {
		log.Printf("karaoke: allocate connection id: %v", err)
		_ = conn.Close()
		return
	}

	peer := newWSPeer(connID)
	rt.peers.add(peer)
	go peer.run(conn)
	defer func() {
		rt.disconnect(ctx, connID)
		rt.peers.remove(connID)
		peer.stop()
		<-peer.done
		_ = conn.Close()
	}()

	// Oversized frames are refused by the websocket codec before they are
	// buffered.
	conn.MaxPayloadBytes = maxFrameBytes
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var data []byte
		var frame wsFrame
		err := websocket.Message.Receive(conn, &data)
		switch {
		case errors.Is(err, websocket.ErrFrameTooLarge):
			writeWSError(peer, "", apperrors.CodeInvalidArgument, "frame too large")
		case err != nil:
			return
		default:
			err = json.Unmarshal(data, &frame)
			if err != nil {
				writeWSError(peer, "", apperrors.CodeInvalidArgument, "invalid frame payload")
			}
		}
		if err != nil {
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			writeWSError(peer, frame.RequestID, apperrors.CodeResourceExhausted, "rate limit exceeded")
			return
		}

		rt.handleFrame(ctx, peer, frame)
	}
}
