package cosim

import (
	"context"
	"sync"
)

// DefaultPipeBuffer holds the seed plus one update in flight in each
// direction, which is the most a party can run ahead of its peer.
const DefaultPipeBuffer = 4

type pipeEnd struct {
	in         <-chan *CouplingUpdate
	out        chan<- *CouplingUpdate
	closed     chan struct{}
	peerClosed <-chan struct{}
	once       sync.Once
}

// NewPipe returns the two ends of an in-memory link. Updates sent on one end
// are received on the other in order. Closing an end lets the peer drain
// what was already sent before it sees ErrLinkClosed; updates sent towards a
// closed end are dropped.
func NewPipe(buffer int) (Link, Link) {
	if buffer < 2 {
		buffer = DefaultPipeBuffer
	}
	ab := make(chan *CouplingUpdate, buffer)
	ba := make(chan *CouplingUpdate, buffer)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})

	a := &pipeEnd{in: ba, out: ab, closed: aClosed, peerClosed: bClosed}
	b := &pipeEnd{in: ab, out: ba, closed: bClosed, peerClosed: aClosed}
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, update *CouplingUpdate) error {
	select {
	case <-p.closed:
		return ErrLinkClosed
	default:
	}
	select {
	case p.out <- update:
		return nil
	case <-p.peerClosed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (*CouplingUpdate, error) {
	select {
	case u := <-p.in:
		return u, nil
	default:
	}
	select {
	case u := <-p.in:
		return u, nil
	case <-p.peerClosed:
		select {
		case u := <-p.in:
			return u, nil
		default:
			return nil, ErrLinkClosed
		}
	case <-p.closed:
		return nil, ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
