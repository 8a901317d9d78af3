//go:build !linux

// Package secmem pins process memory so decrypted key material cannot
// be written to swap.
package secmem

import (
	"fmt"
	"runtime"
)

// Lock is not supported off Linux; callers downgrade the error to a
// startup warning.
func Lock() error {
	return fmt.Errorf("memory locking is only supported on Linux (current OS: %s)", runtime.GOOS)
}
