package transport

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/protocol"
)

// Dialer opens a link for one party. in or out is nil when the party only
// sends or only receives.
type Dialer func(ctx context.Context, source string, in, out *protocol.Endpoint) (cosim.Link, error)

var (
	dialersMu sync.RWMutex
	dialers   = make(map[string]Dialer)
)

// RegisterScheme registers the dialer for endpoint URLs with scheme.
func RegisterScheme(scheme string, d Dialer) {
	dialersMu.Lock()
	defer dialersMu.Unlock()
	dialers[scheme] = d
}

// Schemes lists the registered schemes.
func Schemes() []string {
	dialersMu.RLock()
	defer dialersMu.RUnlock()
	schemes := make([]string, 0, len(dialers))
	for s := range dialers {
		schemes = append(schemes, s)
	}
	slices.Sort(schemes)
	return schemes
}

// Open opens the link between role and its peers. The inbound endpoint is
// the one in role's inbound direction with mode "in", the outbound one the
// endpoint in its outbound direction with mode "out". Both must use the same
// scheme.
func Open(ctx context.Context, role cosim.Role, endpoints []protocol.Endpoint) (cosim.Link, error) {
	in, hasIn := protocol.Select(endpoints, role.Inbound(), protocol.ModeIn)
	out, hasOut := protocol.Select(endpoints, role.Outbound(), protocol.ModeOut)
	if !hasIn && !hasOut {
		return nil, fmt.Errorf("%w: %s has neither %s in nor %s out", ErrNoEndpoint, role, role.Inbound(), role.Outbound())
	}

	var inPtr, outPtr *protocol.Endpoint
	scheme := ""
	if hasIn {
		inPtr = &in
		scheme = schemeOf(in.URL)
	}
	if hasOut {
		outPtr = &out
		s := schemeOf(out.URL)
		if scheme != "" && s != scheme {
			return nil, fmt.Errorf("%w: %s and %s", ErrEndpointMismatch, in.URL, out.URL)
		}
		scheme = s
	}
	return dial(ctx, scheme, string(role), inPtr, outPtr)
}

// OpenHalf opens a link with at most one endpoint per direction, for relays
// that receive on one link and send on another.
func OpenHalf(ctx context.Context, source string, ep protocol.Endpoint) (cosim.Link, error) {
	if ep.Mode == protocol.ModeIn {
		return dial(ctx, schemeOf(ep.URL), source, &ep, nil)
	}
	return dial(ctx, schemeOf(ep.URL), source, nil, &ep)
}

func dial(ctx context.Context, scheme, source string, in, out *protocol.Endpoint) (cosim.Link, error) {
	dialersMu.RLock()
	d, ok := dialers[scheme]
	dialersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return d(ctx, source, in, out)
}

func schemeOf(raw string) string {
	if i := strings.Index(raw, "://"); i > 0 {
		return raw[:i]
	}
	return ""
}

func dialNATS(_ context.Context, source string, in, out *protocol.Endpoint) (cosim.Link, error) {
	var server, inbound, outbound string
	for _, ep := range []*protocol.Endpoint{in, out} {
		if ep == nil {
			continue
		}
		u, err := url.Parse(ep.URL)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", ep.URL, err)
		}
		addr := "nats://" + u.Host
		if server != "" && server != addr {
			return nil, fmt.Errorf("%w: %s and %s", ErrEndpointMismatch, server, addr)
		}
		server = addr
		subject := strings.TrimPrefix(u.Path, "/")
		if ep == in {
			inbound = subject
		} else {
			outbound = subject
		}
	}
	return DialNATS(server, outbound, inbound, source)
}

func init() {
	RegisterScheme("nats", dialNATS)
	RegisterScheme("mem", dialMemory)
}
