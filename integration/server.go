package integration

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/qanchornet/qanchor/shared"
)

// serverConfig contains all the args and data required to launch a qanchor
// daemon instance and observe it from the outside.
type serverConfig struct {
	debugLog      bool
	metricsPort   uint16
	metricsListen string
	baseDir       string
	qanchorDir    string
	exe           string

	owner    string
	relayers []string
	chains   []shared.ChainID
}

// DefaultConfig returns a serverConfig with all default values.
func DefaultConfig() (*serverConfig, error) {
	baseDir, err := baseDir()
	if err != nil {
		return nil, err
	}

	exe, err := qanchorExecutablePath(baseDir)
	if err != nil {
		return nil, err
	}

	cfg := &serverConfig{
		debugLog:      true,
		metricsPort:   19280,
		metricsListen: "127.0.0.1:19280",
		baseDir:       baseDir,
		qanchorDir:    filepath.Join(baseDir, "qanchordir"),
		exe:           exe,
		owner:         "0x000000000000000000000000000000000000000a",
		relayers:      []string{"0x000000000000000000000000000000000000000b"},
		chains:        []shared.ChainID{101},
	}

	return cfg, nil
}

// genArgs generates a slice of command line arguments from a serverConfig
// instance.
func (cfg *serverConfig) genArgs() []string {
	var args []string

	args = append(args, fmt.Sprintf("--qanchordir=%v", cfg.qanchorDir))
	args = append(args, fmt.Sprintf("--metrics-port=%d", cfg.metricsPort))
	if cfg.debugLog {
		args = append(args, "--debuglog")
	}
	args = append(args, fmt.Sprintf("--owner=%v", cfg.owner))
	for _, relayer := range cfg.relayers {
		args = append(args, fmt.Sprintf("--relayer=%v", relayer))
	}
	for _, chain := range cfg.chains {
		args = append(args, fmt.Sprintf("--chain=%d", chain))
	}

	return args
}

// server houses the necessary state required to configure, launch,
// and manage a qanchor daemon process.
type server struct {
	cfg *serverConfig
	cmd *exec.Cmd

	// processExit is a channel that's closed once it's detected that the
	// process this instance is bound to has exited.
	processExit chan struct{}

	quit chan struct{}
	wg   sync.WaitGroup

	errChan chan error
}

// newServer creates a new daemon instance according to the passed cfg.
func newServer(cfg *serverConfig) (*server, error) {
	return &server{
		cfg:     cfg,
		errChan: make(chan error),
	}, nil
}

// start launches a new running process of the qanchor daemon.
func (s *server) start() error {
	s.quit = make(chan struct{})

	args := s.cfg.genArgs()
	s.cmd = exec.Command(s.cfg.exe, args...)

	// Redirect stderr output to buffer
	var errb bytes.Buffer
	s.cmd.Stderr = &errb

	if err := s.cmd.Start(); err != nil {
		return err
	}

	// Launch a new goroutine that bubbles up any potential fatal
	// process errors to errChan.
	s.processExit = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.cmd.Wait()

		if err != nil {
			// Don't propagate 'signal: killed' error,
			// since it's an expected behavior.
			if !strings.Contains(err.Error(), "signal: killed") {
				s.errChan <- fmt.Errorf("%v\n%v\n", err, errb.String())
			}
		}

		// Signal any onlookers that this process has exited.
		close(s.processExit)
	}()

	return nil
}

// shutdown terminates the running daemon process, and optionally cleans up
// all files/directories created by it.
func (s *server) shutdown(cleanup bool) error {
	if err := s.stop(); err != nil {
		return err
	}

	if cleanup {
		if err := s.cleanup(); err != nil {
			return err
		}
	}

	return nil
}

// stop ends the daemon process, interrupting it first so that it can flush
// unit state to disk, and killing it if it does not exit in time.
func (s *server) stop() error {
	// Do nothing if the process is not running.
	if s.processExit == nil {
		return nil
	}

	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("failed to interrupt process: %v", err)
	}
	select {
	case <-s.processExit:
	case <-time.After(10 * time.Second):
		if err := s.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill process: %v", err)
		}
		<-s.processExit
	}

	close(s.quit)
	s.wg.Wait()

	s.quit = nil
	s.processExit = nil
	return nil
}

// cleanup cleans up the temporary files/directories created by the daemon.
func (s *server) cleanup() error {
	return os.RemoveAll(s.cfg.qanchorDir)
}
