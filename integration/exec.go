package integration

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

var (
	// compileMtx guards access to the executable path so that the project is
	// only compiled once.
	compileMtx sync.Mutex

	// executablePath is the path to the compiled executable. This is an empty
	// string until the initial compilation. It should not be accessed directly;
	// use the qanchorExecutablePath() function instead.
	executablePath string
)

// qanchorExecutablePath returns a path to the qanchor daemon executable.
// To ensure the code tests against the most up-to-date version, this method
// compiles the daemon the first time it is called. After that, the
// generated binary is used for subsequent requests.
func qanchorExecutablePath(baseDir string) (string, error) {
	compileMtx.Lock()
	defer compileMtx.Unlock()

	// If qanchor has already been compiled, just use that.
	if len(executablePath) != 0 {
		return executablePath, nil
	}

	// Build qanchor and output an executable in a static temp path.
	outputPath := filepath.Join(baseDir, "qanchor")
	if runtime.GOOS == "windows" {
		outputPath += ".exe"
	}

	cmd := exec.Command(
		"go", "build", "-o", outputPath, "github.com/qanchornet/qanchor",
	)

	err := cmd.Run()
	if err != nil {
		return "", fmt.Errorf("failed to build qanchor: %v", err)
	}

	// Save executable path so future calls do not recompile.
	executablePath = outputPath
	return executablePath, nil
}
