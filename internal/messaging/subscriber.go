package messaging

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"time"
)

// Message is one frame received from a subscriber connection, tagged with
// the endpoint it arrived from (useful for attributing producer identity
// when a single Subscriber connects to several publishers).
type Message struct {
	Endpoint string
	Payload  []byte
}

// SubscriberConfig tunes dial behavior.
type SubscriberConfig struct {
	Endpoints []string
	// DialRetryInterval is how long to wait before retrying a failed dial;
	// a producer may not be up yet when the subscriber starts.
	DialRetryInterval time.Duration
	// RecvQueueDepth bounds the merged receive channel.
	RecvQueueDepth int
}

func DefaultSubscriberConfig(endpoints ...string) SubscriberConfig {
	return SubscriberConfig{
		Endpoints:         endpoints,
		DialRetryInterval: 2 * time.Second,
		RecvQueueDepth:    4096,
	}
}

// Subscriber connects to one or more publisher endpoints and merges their
// frames into a single blocking Recv(). Each endpoint is the sole writer to
// its own connection's share of the output channel, preserving the
// per-source FIFO ordering spec §5 requires up to the intake queue.
type Subscriber struct {
	log *slog.Logger
	cfg SubscriberConfig

	out    chan Message
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber starts one connect-and-read loop per endpoint in the
// background. A loop that fails to dial retries after DialRetryInterval
// until the subscriber is closed.
func NewSubscriber(cfg SubscriberConfig, log *slog.Logger) *Subscriber {
	if cfg.DialRetryInterval <= 0 {
		cfg.DialRetryInterval = 2 * time.Second
	}
	if cfg.RecvQueueDepth <= 0 {
		cfg.RecvQueueDepth = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		log:    log.With("component", "messaging.subscriber"),
		cfg:    cfg,
		out:    make(chan Message, cfg.RecvQueueDepth),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.run(ctx)
	return s
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)
	for _, ep := range s.cfg.Endpoints {
		go s.connectLoop(ctx, ep)
	}
	<-ctx.Done()
}

func (s *Subscriber) connectLoop(ctx context.Context, endpoint string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.Dial("tcp", endpoint)
		if err != nil {
			s.log.Warn("dial failed, retrying", "endpoint", endpoint, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.DialRetryInterval):
				continue
			}
		}

		s.readLoop(ctx, endpoint, conn)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.DialRetryInterval):
		}
	}
}

func (s *Subscriber) readLoop(ctx context.Context, endpoint string, conn net.Conn) {
	defer conn.Close()

	connDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(connDone)
	}()

	r := bufio.NewReader(conn)
	for {
		payload, err := readFrame(r)
		if err != nil {
			return
		}
		select {
		case s.out <- Message{Endpoint: endpoint, Payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}

// Recv blocks until a message arrives or ctx is canceled.
func (s *Subscriber) Recv(ctx context.Context) (Message, error) {
	select {
	case m := <-s.out:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close stops all connect/read loops.
func (s *Subscriber) Close() error {
	s.cancel()
	<-s.done
	return nil
}
