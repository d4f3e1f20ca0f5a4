//go:build unix

package invoke

import (
	"fmt"
	"os"

	"github.com/cli/safeexec"
	"golang.org/x/sys/unix"
)

// Exec replaces the current process with binary run with args. It only
// returns on error.
func Exec(binary string, args []string) error {
	path, err := safeexec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("exec %s: %w", binary, err)
	}
	argv := append([]string{binary}, args...)
	if err := unix.Exec(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}
