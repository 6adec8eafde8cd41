package messaging

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

// PublisherConfig tunes one Publisher's bind socket and per-connection
// outbound buffering.
type PublisherConfig struct {
	BindAddr string
	// SendQueueDepth bounds each connected subscriber's outbound buffer.
	// When it fills, Send drops the message for that subscriber and
	// increments DroppedOut, per spec §4.2's non-blocking-send contract.
	SendQueueDepth int
	// RateLimit, if non-zero, caps outbound messages per second per
	// connection via a token bucket; each connection has its own writer
	// goroutine and limiter.
	RateLimit rate.Limit
}

func DefaultPublisherConfig(bind string) PublisherConfig {
	return PublisherConfig{BindAddr: bind, SendQueueDepth: 1024, RateLimit: 10000}
}

// Publisher binds one TCP endpoint and fans out Send() calls to every
// currently-connected subscriber. Late joiners only receive messages sent
// after they connect (spec §4.2): there is no replay buffer.
type Publisher struct {
	log *slog.Logger
	cfg PublisherConfig

	ln net.Listener

	mu    sync.Mutex
	conns map[*pubConn]struct{}

	dropped atomic.Int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type pubConn struct {
	out     chan []byte
	limiter *rate.Limiter
}

// NewPublisher binds cfg.BindAddr and starts accepting subscriber
// connections in the background.
func NewPublisher(cfg PublisherConfig, log *slog.Logger) (*Publisher, error) {
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		log:    log.With("component", "messaging.publisher", "addr", cfg.BindAddr),
		cfg:    cfg,
		ln:     ln,
		conns:  make(map[*pubConn]struct{}),
		cancel: cancel,
	}
	p.wg.Add(1)
	go p.acceptLoop(ctx)
	return p, nil
}

func (p *Publisher) acceptLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				p.log.Warn("accept failed", "error", err)
				return
			}
		}
		p.handleConn(ctx, conn)
	}
}

func (p *Publisher) handleConn(ctx context.Context, conn net.Conn) {
	pc := &pubConn{
		out:     make(chan []byte, p.cfg.SendQueueDepth),
		limiter: rate.NewLimiter(p.cfg.RateLimit, int(p.cfg.RateLimit)+1),
	}

	p.mu.Lock()
	p.conns[pc] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer conn.Close()
		defer func() {
			p.mu.Lock()
			delete(p.conns, pc)
			p.mu.Unlock()
		}()

		w := bufio.NewWriter(conn)
		for {
			select {
			case <-ctx.Done():
				// Write out whatever Send already queued before closing.
				for {
					select {
					case payload, ok := <-pc.out:
						if !ok || writeFrame(w, payload) != nil {
							w.Flush()
							return
						}
					default:
						w.Flush()
						return
					}
				}
			case payload, ok := <-pc.out:
				if !ok {
					return
				}
				_ = pc.limiter.Wait(ctx)
				if err := writeFrame(w, payload); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}()
}

// Send fans payload out to every connected subscriber without blocking. A
// subscriber whose outbound buffer is full is skipped and DroppedOut is
// incremented once per skipped subscriber, per spec §4.2.
func (p *Publisher) Send(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for pc := range p.conns {
		select {
		case pc.out <- payload:
		default:
			p.dropped.Inc()
		}
	}
}

// DroppedOut returns the number of messages dropped for being sent to a
// full subscriber buffer.
func (p *Publisher) DroppedOut() int64 { return p.dropped.Load() }

// Addr returns the bound address (useful when BindAddr was ":0").
func (p *Publisher) Addr() net.Addr { return p.ln.Addr() }

// Close stops accepting connections, writes out messages already queued
// for each subscriber, and closes all active subscriber connections.
func (p *Publisher) Close() error {
	p.cancel()
	err := p.ln.Close()
	p.mu.Lock()
	for pc := range p.conns {
		close(pc.out)
	}
	p.conns = make(map[*pubConn]struct{})
	p.mu.Unlock()
	p.wg.Wait()
	return err
}
