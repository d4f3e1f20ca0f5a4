//go:build !unix

package invoke

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/cli/safeexec"
)

// Exec runs binary with args as a child process sharing this process's
// standard streams. An unsuccessful exit is returned as an *exec.ExitError.
func Exec(binary string, args []string) error {
	path, err := safeexec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("exec %s: %w", binary, err)
	}
	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
