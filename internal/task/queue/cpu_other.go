//go:build !unix

package queue

import "time"

// processCPU is unavailable here; callers fall back to wall time.
func processCPU() time.Duration { return 0 }
