//go:build linux

// Package secmem pins process memory so decrypted key material cannot
// be written to swap.
package secmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Lock pins all current and future pages of the process into RAM.
// Requires CAP_IPC_LOCK or an adequate RLIMIT_MEMLOCK.
func Lock() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}
