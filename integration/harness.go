package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// Harness fully encapsulates an active qanchor daemon process to provide a
// unified platform to programmatically drive a qanchor instance, whether for
// creating integration tests or for any other usage.
type Harness struct {
	server *server
}

// NewHarness creates and initializes a new instance of Harness.
func NewHarness(ctx context.Context, cfg *serverConfig) (*Harness, error) {
	server, err := newServer(cfg)
	if err != nil {
		return nil, err
	}

	if isListening(cfg.metricsListen) {
		if err := killProcess(cfg.metricsListen); err != nil {
			return nil, err
		}
	}

	// Spawn a new qanchor daemon process.
	if err := server.start(); err != nil {
		return nil, err
	}

	// Verify the daemon came up.
	// If it failed, shut the process down.
	if err := waitListening(ctx, cfg.metricsListen); err != nil {
		_ = server.shutdown(true)
		return nil, err
	}

	return &Harness{server: server}, nil
}

// TearDown stops the harness running instance.
// The created process is stopped, and optionally the temporary
// directories are removed.
func (h *Harness) TearDown(cleanup bool) error {
	if err := h.server.shutdown(cleanup); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}

	return nil
}

// Restart stops the daemon process gracefully and launches a fresh one over
// the same state directory.
func (h *Harness) Restart(ctx context.Context) error {
	if err := h.server.stop(); err != nil {
		return err
	}
	if err := h.server.start(); err != nil {
		return err
	}
	return waitListening(ctx, h.server.cfg.metricsListen)
}

// Metrics scrapes the daemon's metrics endpoint and returns the exposition
// body.
func (h *Harness) Metrics(ctx context.Context) (string, error) {
	url := fmt.Sprintf("http://%s/metrics", h.server.cfg.metricsListen)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("scraping %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ProcessErrors returns a channel used for reporting any fatal process errors.
func (h *Harness) ProcessErrors() <-chan error {
	return h.server.errChan
}

// waitListening blocks until the address accepts TCP connections or the
// context expires.
func waitListening(ctx context.Context, addr string) error {
	for {
		if isListening(addr) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon not listening on %s: %w", addr, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// baseDir is the directory path of the temp directory for all the harness files.
func baseDir() (string, error) {
	baseDir := filepath.Join(os.TempDir(), "qanchor")
	err := os.MkdirAll(baseDir, 0o755)
	return baseDir, err
}

func isListening(addr string) bool {
	conn, _ := net.DialTimeout("tcp", addr, 1*time.Second)
	if conn != nil {
		_ = conn.Close()
		return true
	}
	return false
}

func killProcess(address string) error {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return err
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		args := fmt.Sprintf("(Get-NetTCPConnection -LocalPort %d).OwningProcess -Force", addr.Port)
		cmd = exec.Command("Stop-Process", "-Id", args)
	} else {
		args := fmt.Sprintf("lsof -i tcp:%d | grep LISTEN | awk '{print $2}' | xargs kill -9", addr.Port)
		cmd = exec.Command("bash", "-c", args)
	}

	var errb bytes.Buffer
	cmd.Stderr = &errb

	if err := cmd.Start(); err != nil {
		return err
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("error during killing process: %s | %s", err, errb.String())
	}

	return nil
}
