// Package adapter is the body of a co-simulation party process. It decodes
// the startup arguments, performs the implicit INIT, reports the local
// minimum step size, then executes exactly one steering command.
package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/engines/meanfield"
	"github.com/GoCodeAlone/cosim/engines/spiking"
	"github.com/GoCodeAlone/cosim/health"
	"github.com/GoCodeAlone/cosim/lifecycle"
	"github.com/GoCodeAlone/cosim/monitor"
	"github.com/GoCodeAlone/cosim/protocol"
	"github.com/GoCodeAlone/cosim/transform"
	"github.com/GoCodeAlone/cosim/transport"
)

// Deps are the collaborators a party process can have replaced, mostly for
// tests. Zero values select the defaults.
type Deps struct {
	// Sources overrides the engine built for a role.
	Sources map[cosim.Role]cosim.EngineSource
	// OpenLink overrides how the party connects to its peers.
	OpenLink cosim.LinkOpener
	// Key is the integrity key; nil means protocol.KeyFromEnv().
	Key []byte
	// Getpid defaults to os.Getpid.
	Getpid func() int
}

// DefaultSource returns the engine source of role: the meanfield network
// for the macroscale side and spiking populations for the microscale side.
func DefaultSource(role cosim.Role) cosim.EngineSource {
	switch role {
	case cosim.RoleMacroscale:
		return cosim.FromFactory(meanfield.New)
	case cosim.RoleMicroscale:
		return cosim.FromBuilder(spiking.Builder{})
	default:
		return cosim.EngineSource{}
	}
}

// Run executes one party and returns its exit code. Standard output carries
// only the INIT response line.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, deps Deps) int {
	key := deps.Key
	if key == nil {
		key = protocol.KeyFromEnv()
	}
	getpid := deps.Getpid
	if getpid == nil {
		getpid = os.Getpid
	}

	startup, err := protocol.ParseStartupArgs(args, key)
	if err != nil {
		var countErr *protocol.ArgumentCountError
		if errors.As(err, &countErr) {
			fmt.Fprintln(stderr, countErr.Error())
			fmt.Fprintf(stderr, "received arguments: %q\n", countErr.Received)
			return 1
		}
		fmt.Fprintf(stderr, "invalid startup arguments: %v\n", err)
		return 1
	}

	startup.Log.Component = string(startup.Config.Role)
	logger, closer, err := cosim.NewLogger(startup.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "invalid log settings: %v\n", err)
		return 1
	}
	defer closer.Close()

	params, err := cosim.LoadParameters(startup.ParametersPath)
	if err != nil {
		logger.Error("Failed to load parameters", "path", startup.ParametersPath, "error", err)
		fmt.Fprintf(stderr, "%s fault: %v\n", cosim.FaultOf(err), err)
		return 1
	}

	p := &party{
		startup: startup,
		params:  params,
		deps:    deps,
		logger:  logger,
		stdin:   bufio.NewReader(stdin),
		stdout:  stdout,
		stderr:  stderr,
		pid:     getpid(),
	}
	switch startup.Config.Role {
	case cosim.RoleForward, cosim.RoleBackward:
		return p.runRelay(ctx)
	default:
		return p.runEngine(ctx)
	}
}

type party struct {
	startup *protocol.StartupArgs
	params  *cosim.Parameters
	deps    Deps
	logger  *slog.Logger
	stdin   *bufio.Reader
	stdout  io.Writer
	stderr  io.Writer
	pid     int
}

func (p *party) role() cosim.Role { return p.startup.Config.Role }

func (p *party) runEngine(ctx context.Context) int {
	role := p.role()
	registry := prometheus.NewRegistry()
	cfg := cosim.ControllerConfig{
		Role:       role,
		RunID:      p.startup.Config.RunID,
		Params:     p.params,
		Source:     DefaultSource(role),
		OpenLink:   p.openLink,
		Dispatcher: lifecycle.NewDispatcher(nil),
		Logger:     p.logger,
	}
	if src, ok := p.deps.Sources[role]; ok {
		cfg.Source = src
	}
	if p.deps.OpenLink != nil {
		cfg.OpenLink = p.deps.OpenLink
	}
	if !p.startup.Config.ExternalTransformers {
		t, err := p.transformer()
		if err != nil {
			return p.fatal(fmt.Errorf("%w: %w", cosim.ErrConfiguration, err))
		}
		cfg.Transformer = t
	}
	if dir := p.resultsDir(); dir != "" {
		cfg.Reporter = cosim.FileReporter{Dir: dir, Role: role}
	}

	var mon *monitor.ResourceMonitor
	if p.startup.Monitoring {
		interval, _ := p.params.Monitoring.IntervalDuration()
		mon = monitor.NewResourceMonitor(interval, p.logger)
		registry = mon.Registry()
		cfg.Monitor = mon
	}
	cfg.Metrics = cosim.NewMetrics(registry, role)

	_ = cfg.Dispatcher.RegisterObserver(lifecycle.NewBasicObserver("log", []lifecycle.EventType{lifecycle.EventTypeStateChanged}, 0,
		func(_ context.Context, e *lifecycle.Event) error {
			p.logger.Info("Lifecycle transition", "from", e.From, "to", e.To, "error", e.Error)
			return nil
		}))

	ctrl, err := cosim.NewController(cfg)
	if err != nil {
		return p.fatal(err)
	}

	if addr := p.params.StatusAddr; addr != "" {
		agg := health.NewAggregator(0)
		_ = agg.RegisterCheck(ctrl)
		if mon != nil {
			_ = agg.RegisterCheck(mon)
		}
		srv := monitor.NewServer(addr, agg, registry, func() any { return ctrl.Status() }, p.logger)
		if err := srv.Start(ctx); err != nil {
			p.logger.Warn("Status server did not start", "addr", addr, "error", err)
		} else {
			defer srv.Stop(context.WithoutCancel(ctx))
		}
	}

	local, err := ctrl.Init(ctx)
	if err != nil {
		return p.fatal(err)
	}
	if err := protocol.WriteInitResponse(p.stdout, p.pid, local); err != nil {
		return p.fatal(fmt.Errorf("%w: write INIT response: %w", cosim.ErrProtocol, err))
	}

	cmd, err := p.readCommand()
	if err != nil {
		_ = ctrl.Reject(ctx, cmd, err)
		return 1
	}
	if err := ctrl.Handle(ctx, cmd); err != nil {
		return p.fatal(err)
	}
	if result, _, err := ctrl.Results(); err == nil && result != nil {
		p.logger.Info("Party finished", "requested", result.Requested, "achieved", result.Length,
			"steps", result.Steps, "cycles", result.Cycles)
	}
	return 0
}

func (p *party) runRelay(ctx context.Context) int {
	role := p.role()
	t, err := p.transformer()
	if err != nil {
		return p.fatal(fmt.Errorf("%w: %w", cosim.ErrConfiguration, err))
	}
	if err := protocol.WriteInitResponse(p.stdout, p.pid, p.params.SynchronizationTime); err != nil {
		return p.fatal(fmt.Errorf("%w: write INIT response: %w", cosim.ErrProtocol, err))
	}
	if _, err := p.readCommand(); err != nil {
		return 1
	}

	in, hasIn := protocol.Select(p.startup.Endpoints, role.Inbound(), protocol.ModeIn)
	out, hasOut := protocol.Select(p.startup.Endpoints, role.Outbound(), protocol.ModeOut)
	if !hasIn || !hasOut {
		return p.fatal(fmt.Errorf("%w: relay %s needs an inbound and an outbound endpoint", cosim.ErrConfiguration, role))
	}
	if err := p.rendezvous(ctx); err != nil {
		return p.fatal(fmt.Errorf("%w: %w", cosim.ErrLiveness, err))
	}
	upstream, err := transport.OpenHalf(ctx, string(role), in)
	if err != nil {
		return p.fatal(fmt.Errorf("%w: %w", cosim.ErrLiveness, err))
	}
	defer upstream.Close()
	downstream, err := transport.OpenHalf(ctx, string(role), out)
	if err != nil {
		return p.fatal(fmt.Errorf("%w: %w", cosim.ErrLiveness, err))
	}

	relay := &transform.Relay{
		In:          upstream,
		Out:         downstream,
		Transformer: t,
		Rand:        cosim.NewRand(p.params.Seed, cosim.StreamRelay),
		Role:        role,
		Logger:      p.logger,
	}
	n, err := relay.Run(ctx)
	if err != nil {
		return p.fatal(err)
	}
	p.logger.Info("Relay finished", "forwarded", n)
	return 0
}

// readCommand reads and decodes the single steering command. Anything but
// START is reported on stderr.
func (p *party) readCommand() (cosim.Command, error) {
	line, err := p.stdin.ReadString('\n')
	if err != nil && line == "" {
		err = fmt.Errorf("%w: %w: no command received: %w", cosim.ErrProtocol, cosim.ErrUnknownCommand, err)
		fmt.Fprintf(p.stderr, "unknown command: <none> (%v)\n", err)
		return cosim.Command{}, err
	}
	cmd, err := protocol.ParseCommand(line)
	if err == nil && cmd.Kind != cosim.CommandStart {
		err = fmt.Errorf("%w: %w: %s", cosim.ErrProtocol, cosim.ErrUnknownCommand, cmd.Raw)
	}
	if err != nil {
		if errors.Is(err, cosim.ErrUnknownCommand) {
			fmt.Fprintf(p.stderr, "unknown command: %s\n", cmd.Raw)
		} else {
			fmt.Fprintf(p.stderr, "malformed command: %s: %v\n", cmd.Raw, err)
		}
		p.logger.Error("Command rejected", "command", cmd.Raw, "error", err)
		return cmd, err
	}
	return cmd, nil
}

func (p *party) transformer() (cosim.Transformer, error) {
	switch p.role() {
	case cosim.RoleMacroscale, cosim.RoleBackward:
		return transform.New(p.params.Backward)
	default:
		return transform.New(p.params.Forward)
	}
}

func (p *party) openLink(ctx context.Context, role cosim.Role) (cosim.Link, error) {
	if err := p.rendezvous(ctx); err != nil {
		return nil, err
	}
	return transport.Open(ctx, role, p.startup.Endpoints)
}

// rendezvous announces this party's endpoints and waits for its peers when
// the run uses a rendezvous directory.
func (p *party) rendezvous(ctx context.Context) error {
	handle := p.startup.Config
	if handle.RendezvousDir == "" {
		return nil
	}
	err := transport.PublishEndpoint(handle.RendezvousDir, transport.Announcement{
		Role: p.role(), PID: p.pid, Endpoints: p.startup.Endpoints,
	})
	if err != nil {
		return err
	}
	_, err = transport.WaitForEndpoints(ctx, handle.RendezvousDir, handle.Peers...)
	return err
}

func (p *party) resultsDir() string {
	dir := p.startup.Config.ResultsDir
	if dir == "" {
		dir = p.params.ResultsDir
	}
	if dir == "" {
		return ""
	}
	if p.startup.Config.RunID != "" {
		dir = filepath.Join(dir, p.startup.Config.RunID)
	}
	return dir
}

func (p *party) fatal(err error) int {
	p.logger.Error("Party failed", "role", p.role(), "fault", cosim.FaultOf(err), "error", err)
	fmt.Fprintf(p.stderr, "%s fault: %v\n", cosim.FaultOf(err), err)
	return cosim.ExitCode(err)
}
