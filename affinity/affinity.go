// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package affinity pins OS threads to logical CPUs on supported platforms.
// Callers must hold runtime.LockOSThread for the pin to stay meaningful.
package affinity

// SetAffinity pins the calling OS thread to the given logical CPU. On
// unsupported platforms it returns an error and the thread floats.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}
