//go:build !linux && !darwin

package nobackup

// Mark is a documented no-op on platforms without an equivalent
// extended-attribute facility exposed via golang.org/x/sys.
func Mark(path string) {}
