package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/protocol"
)

// DefaultInitTimeout bounds how long a party may take to answer INIT.
const DefaultInitTimeout = 30 * time.Second

var (
	ErrNoParties   = errors.New("no parties to launch")
	ErrInitTimeout = errors.New("party did not answer INIT in time")
	ErrPartyFailed = errors.New("party exited with a non-zero status")
)

// Launcher starts party processes and steers them.
type Launcher struct {
	// Binary is the party executable; it receives the five startup arguments.
	Binary string
	Key    []byte
	// Command builds the process of one party; nil runs Binary.
	Command     func(ctx context.Context, role cosim.Role, args []string) *exec.Cmd
	Stderr      io.Writer
	InitTimeout time.Duration
	Logger      cosim.Logger
}

// Outcome is what one party did.
type Outcome struct {
	Role                 cosim.Role
	PID                  int
	LocalMinimumStepSize float64
	ExitCode             int
}

// Result summarizes a launched run.
type Result struct {
	GlobalMinimumStepSize float64
	Parties               []Outcome
}

type process struct {
	role  cosim.Role
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *bufio.Reader
	init  protocol.InitResponse
}

// Launch starts every party, collects their INIT responses, sends START
// with the smallest local minimum step size to all of them and waits for
// them to exit. If any party fails before START, the others are killed.
func (l *Launcher) Launch(ctx context.Context, parties []protocol.StartupArgs) (*Result, error) {
	if len(parties) == 0 {
		return nil, ErrNoParties
	}
	logger := l.Logger
	if logger == nil {
		logger = cosim.NopLogger()
	}

	procs := make([]*process, 0, len(parties))
	killAll := func() {
		for _, p := range procs {
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
				_ = p.cmd.Wait()
			}
		}
	}
	for _, party := range parties {
		p, err := l.start(ctx, party)
		if err != nil {
			killAll()
			return nil, err
		}
		logger.Info("Party started", "role", p.role, "pid", p.cmd.Process.Pid)
		procs = append(procs, p)
	}

	if err := l.collectInit(ctx, procs); err != nil {
		killAll()
		return nil, err
	}

	global := math.Inf(1)
	for _, p := range procs {
		global = math.Min(global, p.init.LocalMinimumStepSize)
	}
	line, err := protocol.FormatCommand(cosim.Command{Kind: cosim.CommandStart, Parameters: []float64{global}})
	if err != nil {
		killAll()
		return nil, err
	}
	logger.Info("Starting parties", "global_minimum_step_size", global)
	for _, p := range procs {
		if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
			killAll()
			return nil, fmt.Errorf("%w: START to %s: %w", cosim.ErrLiveness, p.role, err)
		}
		_ = p.stdin.Close()
	}

	result := &Result{GlobalMinimumStepSize: global, Parties: make([]Outcome, len(procs))}
	var g errgroup.Group
	for i, p := range procs {
		g.Go(func() error {
			err := p.cmd.Wait()
			code := 0
			var exitErr *exec.ExitError
			switch {
			case errors.As(err, &exitErr):
				code = exitErr.ExitCode()
			case err != nil:
				return fmt.Errorf("wait for %s: %w", p.role, err)
			}
			result.Parties[i] = Outcome{
				Role:                 p.role,
				PID:                  p.init.PID,
				LocalMinimumStepSize: p.init.LocalMinimumStepSize,
				ExitCode:             code,
			}
			if code != 0 {
				logger.Error("Party failed", "role", p.role, "exit_code", code)
				return fmt.Errorf("%w: %s exited with %d", ErrPartyFailed, p.role, code)
			}
			logger.Info("Party finished", "role", p.role)
			return nil
		})
	}
	return result, g.Wait()
}

func (l *Launcher) start(ctx context.Context, party protocol.StartupArgs) (*process, error) {
	args, err := protocol.BuildStartupArgs(party, l.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: seal arguments of %s: %w", cosim.ErrConfiguration, party.Config.Role, err)
	}
	var cmd *exec.Cmd
	if l.Command != nil {
		cmd = l.Command(ctx, party.Config.Role, args)
	} else {
		cmd = exec.CommandContext(ctx, l.Binary, args...)
	}
	if l.Key != nil {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, protocol.KeyEnv+"="+string(l.Key))
	}
	cmd.Stderr = l.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", cosim.ErrLiveness, party.Config.Role, err)
	}
	return &process{role: party.Config.Role, cmd: cmd, stdin: stdin, out: bufio.NewReader(stdout)}, nil
}

// collectInit reads the INIT response of every party concurrently.
func (l *Launcher) collectInit(ctx context.Context, procs []*process) error {
	timeout := l.InitTimeout
	if timeout <= 0 {
		timeout = DefaultInitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := protocol.ReadInitResponse(p.out)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: INIT from %s: %w", cosim.ErrProtocol, p.role, err))
				return
			}
			p.init = resp
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", cosim.ErrLiveness, ErrInitTimeout)
	}
}
