// Package sysinfo detects the identity a runner announces to the
// coordination server.
package sysinfo

import (
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/pbnjay/memory"
	"github.com/samber/lo"
)

const UnknownCPU = "Unknown"

// Identity is fixed for the lifetime of the process.
type Identity struct {
	WorkerID string
	CPUBrand string
	Cores    int
}

// Detect builds the identity of this machine. The number of cores handed to
// the generator is capped by maxCores and, if memPerCoreMB is positive, by how
// many generator threads fit in physical memory.
func Detect(maxCores int, memPerCoreMB uint64) Identity {
	brand := strings.TrimSpace(cpuid.CPU.BrandName)
	if brand == "" {
		brand = UnknownCPU
	}
	return Identity{
		WorkerID: uuid.NewString(),
		CPUBrand: brand,
		Cores:    ClampCores(runtime.NumCPU(), maxCores, memory.TotalMemory(), memPerCoreMB),
	}
}

// ClampCores limits the logical core count. A non-positive maxCores means no
// explicit cap. The result is never below one.
func ClampCores(logical, maxCores int, totalMemBytes, memPerCoreMB uint64) int {
	upper := logical
	if maxCores > 0 {
		upper = min(upper, maxCores)
	}
	if memPerCoreMB > 0 && totalMemBytes > 0 {
		fit := int(totalMemBytes / (memPerCoreMB << 20))
		upper = min(upper, fit)
	}
	return lo.Clamp(upper, 1, max(logical, 1))
}
