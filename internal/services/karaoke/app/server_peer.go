package server

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/karaoke.space/internal/platform/timeouts"
)

const outboundBufferFrames = 256

// frameConn is the write side of a websocket connection.
type frameConn interface {
	io.WriteCloser
	SetWriteDeadline(t time.Time) error
}

// wsPeer owns the outbound side of one connection. Frames are queued by any
// goroutine and written in order by a single writer.
type wsPeer struct {
	connID   string
	out      chan wsFrame
	stopped  chan struct{}
	stopOnce sync.Once
	aborted  atomic.Bool
	done     chan struct{}
}

func newWSPeer(connID string) *wsPeer {
	return &wsPeer{
		connID:  connID,
		out:     make(chan wsFrame, outboundBufferFrames),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// send queues a frame without blocking. A peer whose buffer is full is
// aborted so one slow client cannot stall a session.
func (p *wsPeer) send(frame wsFrame) bool {
	select {
	case <-p.stopped:
		return false
	default:
	}
	select {
	case p.out <- frame:
		return true
	default:
		log.Printf("karaoke: dropping slow connection conn=%q", p.connID)
		p.abort()
		return false
	}
}

// stop ends the writer after it flushes queued frames.
func (p *wsPeer) stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

// abort ends the writer without flushing and closes the connection.
func (p *wsPeer) abort() {
	p.aborted.Store(true)
	p.stop()
}

func (p *wsPeer) run(conn frameConn) {
	defer close(p.done)

	encoder := json.NewEncoder(conn)
	write := func(frame wsFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(timeouts.FrameWrite))
		return encoder.Encode(frame)
	}

	for {
		select {
		case frame := <-p.out:
			if err := write(frame); err != nil {
				p.abort()
				_ = conn.Close()
				return
			}
		case <-p.stopped:
			if p.aborted.Load() {
				_ = conn.Close()
				return
			}
			for {
				select {
				case frame := <-p.out:
					if err := write(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// peerSet maps connection ids to their live peers.
type peerSet struct {
	mu    sync.RWMutex
	peers map[string]*wsPeer
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[string]*wsPeer)}
}

func (s *peerSet) add(peer *wsPeer) {
	s.mu.Lock()
	s.peers[peer.connID] = peer
	s.mu.Unlock()
}

func (s *peerSet) remove(connID string) {
	s.mu.Lock()
	delete(s.peers, connID)
	s.mu.Unlock()
}

func (s *peerSet) get(connID string) *wsPeer {
	s.mu.RLock()
	peer := s.peers[connID]
	s.mu.RUnlock()
	return peer
}

// deliver queues frame for each recipient that is still connected.
func (s *peerSet) deliver(recipients []string, frame wsFrame) int {
	delivered := 0
	for _, connID := range recipients {
		peer := s.get(connID)
		if peer == nil {
			continue
		}
		if peer.send(frame) {
			delivered++
		}
	}
	return delivered
}
