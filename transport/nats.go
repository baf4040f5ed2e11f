package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/GoCodeAlone/cosim"
)

const (
	readySuffix      = ".ready"
	handshakeAttempt = 250 * time.Millisecond
	flushTimeout     = 2 * time.Second
)

// NATSLink is a cosim.Link over two NATS subjects: updates are published on
// the outbound subject and received from the inbound one. Either subject may
// be empty for a link that only sends or only receives.
//
// The receiving side answers requests on "<inbound>.ready". The first Send
// waits for that answer so no update is published before the peer listens.
type NATSLink struct {
	conn     *nats.Conn
	ownsConn bool
	outbound string
	inbound  string
	source   string

	sub   *nats.Subscription
	ready *nats.Subscription

	mu         sync.Mutex
	handshaken bool
	peerClosed bool
	closeOnce  sync.Once
	closeErr   error
}

// DialNATS connects to url and opens a link on the given subjects. The
// connection is closed with the link.
func DialNATS(url, outbound, inbound, source string, opts ...nats.Option) (*NATSLink, error) {
	opts = append([]nats.Option{nats.Name("cosim-" + source)}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	link, err := NewNATSLink(conn, outbound, inbound, source)
	if err != nil {
		conn.Close()
		return nil, err
	}
	link.ownsConn = true
	return link, nil
}

// NewNATSLink opens a link on an existing connection, which stays owned by
// the caller.
func NewNATSLink(conn *nats.Conn, outbound, inbound, source string) (*NATSLink, error) {
	if outbound == "" && inbound == "" {
		return nil, fmt.Errorf("nats link needs at least one subject")
	}
	l := &NATSLink{conn: conn, outbound: outbound, inbound: inbound, source: source}
	if inbound != "" {
		sub, err := conn.SubscribeSync(inbound)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", inbound, err)
		}
		ready, err := conn.Subscribe(inbound+readySuffix, func(m *nats.Msg) {
			_ = m.Respond(nil)
		})
		if err != nil {
			_ = sub.Unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", inbound+readySuffix, err)
		}
		l.sub, l.ready = sub, ready
		if err := conn.FlushTimeout(flushTimeout); err != nil {
			_ = l.unsubscribe()
			return nil, fmt.Errorf("flush subscriptions: %w", err)
		}
	}
	return l, nil
}

// Send publishes u on the outbound subject.
func (l *NATSLink) Send(ctx context.Context, u *cosim.CouplingUpdate) error {
	if l.outbound == "" {
		return ErrReceiveOnly
	}
	if err := l.handshake(ctx); err != nil {
		return err
	}
	raw, err := EncodeUpdate(l.source, u)
	if err != nil {
		return err
	}
	if err := l.conn.Publish(l.outbound, raw); err != nil {
		return l.translate(err)
	}
	return l.translate(l.conn.FlushTimeout(flushTimeout))
}

// Receive waits for the next update on the inbound subject.
func (l *NATSLink) Receive(ctx context.Context) (*cosim.CouplingUpdate, error) {
	if l.sub == nil {
		return nil, ErrSendOnly
	}
	l.mu.Lock()
	closed := l.peerClosed
	l.mu.Unlock()
	if closed {
		return nil, cosim.ErrLinkClosed
	}

	msg, err := l.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, l.translate(err)
	}
	u, err := DecodeUpdate(msg.Data)
	if errors.Is(err, cosim.ErrLinkClosed) {
		l.mu.Lock()
		l.peerClosed = true
		l.mu.Unlock()
	}
	return u, err
}

// Close tells the peer the stream has ended and releases the subscriptions.
func (l *NATSLink) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		handshaken := l.handshaken
		l.mu.Unlock()
		if handshaken && !l.conn.IsClosed() {
			if raw, err := EncodeClosed(l.source); err == nil {
				_ = l.conn.Publish(l.outbound, raw)
				_ = l.conn.FlushTimeout(flushTimeout)
			}
		}
		l.closeErr = l.unsubscribe()
		if l.ownsConn {
			l.conn.Close()
		}
	})
	return l.closeErr
}

func (l *NATSLink) handshake(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handshaken {
		return nil
	}
	for {
		attempt, cancel := context.WithTimeout(ctx, handshakeAttempt)
		_, err := l.conn.RequestWithContext(attempt, l.outbound+readySuffix, nil)
		cancel()
		if err == nil {
			l.handshaken = true
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w on %s: %w", ErrHandshakeTimedOut, l.outbound, ctx.Err())
		}
		if l.conn.IsClosed() {
			return cosim.ErrLinkClosed
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w on %s: %w", ErrHandshakeTimedOut, l.outbound, ctx.Err())
		case <-time.After(handshakeAttempt / 5):
		}
	}
}

func (l *NATSLink) unsubscribe() error {
	var errs []error
	for _, sub := range []*nats.Subscription{l.sub, l.ready} {
		if sub == nil || !sub.IsValid() {
			continue
		}
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// translate maps connection shutdown to cosim.ErrLinkClosed and leaves
// context errors as they are.
func (l *NATSLink) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
		return fmt.Errorf("%w: %w", cosim.ErrLinkClosed, err)
	default:
		return err
	}
}
