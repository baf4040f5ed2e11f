package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/protocol"
)

// Named in-memory pipes let parties running in one process find each other
// through mem://<name> endpoints. The party sending MACRO_TO_MICRO takes
// one end, its peer the other.
type namedPipe struct {
	ends    [2]cosim.Link
	claimed [2]bool
}

var (
	pipesMu sync.Mutex
	pipes   = make(map[string]*namedPipe)
)

// ReleasePipe forgets the named pipe so its name can be reused.
func ReleasePipe(name string) {
	pipesMu.Lock()
	defer pipesMu.Unlock()
	delete(pipes, name)
}

func claimPipe(name string, side int) (cosim.Link, error) {
	pipesMu.Lock()
	defer pipesMu.Unlock()
	p, ok := pipes[name]
	if !ok {
		a, b := cosim.NewPipe(cosim.DefaultPipeBuffer)
		p = &namedPipe{ends: [2]cosim.Link{a, b}}
		pipes[name] = p
	}
	if p.claimed[side] {
		return nil, fmt.Errorf("%w: mem://%s side %d", ErrEndpointInUse, name, side)
	}
	p.claimed[side] = true
	return p.ends[side], nil
}

func dialMemory(_ context.Context, _ string, in, out *protocol.Endpoint) (cosim.Link, error) {
	if in == nil || out == nil {
		return nil, fmt.Errorf("%w: mem links need both directions", ErrNoEndpoint)
	}
	inName, err := pipeName(in.URL)
	if err != nil {
		return nil, err
	}
	outName, err := pipeName(out.URL)
	if err != nil {
		return nil, err
	}
	if inName != outName {
		return nil, fmt.Errorf("%w: %s and %s", ErrEndpointMismatch, in.URL, out.URL)
	}
	side := 1
	if out.Direction == cosim.MacroToMicro {
		side = 0
	}
	return claimPipe(outName, side)
}

func pipeName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q names no pipe", raw)
	}
	return u.Host, nil
}
