package security

import (
	"sync"
	"sync/atomic"
	"time"
)

// ResourceLimits bounds what a single run may consume.
type ResourceLimits struct {
	// Wall-clock budget for one run
	ExecutionTimeout time.Duration

	// Maximum file operations per second
	FileOpsPerSecond int

	// Maximum bytes written to the diagnostic log
	MaxOutputSize int64

	// Maximum size of one file written through the fs capability
	MaxFileSize int64
}

// DefaultResourceLimits returns the limits used when none are configured.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		ExecutionTimeout: 30 * time.Second,
		FileOpsPerSecond: 100,
		MaxOutputSize:    1 * 1024 * 1024,  // 1 MB
		MaxFileSize:      64 * 1024 * 1024, // 64 MB
	}
}

// StrictResourceLimits returns tighter limits for unreviewed plugins.
func StrictResourceLimits() ResourceLimits {
	return ResourceLimits{
		ExecutionTimeout: 5 * time.Second,
		FileOpsPerSecond: 10,
		MaxOutputSize:    256 * 1024,      // 256 KB
		MaxFileSize:      8 * 1024 * 1024, // 8 MB
	}
}

// ResourceMonitor tracks usage for one run and enforces limits.
type ResourceMonitor struct {
	mu sync.RWMutex

	limits ResourceLimits

	outputSize   int64
	fileOps      int64
	bytesWritten int64

	fileOpsLimiter *RateLimiter

	exceeded bool
	reason   string
}

// NewResourceMonitor creates a new resource monitor with the given limits.
func NewResourceMonitor(limits ResourceLimits) *ResourceMonitor {
	return &ResourceMonitor{
		limits:         limits,
		fileOpsLimiter: NewRateLimiter(limits.FileOpsPerSecond),
	}
}

// AddOutput records bytes sent to the diagnostic log.
// Returns true if the limit is exceeded.
func (rm *ResourceMonitor) AddOutput(bytes int64) bool {
	newSize := atomic.AddInt64(&rm.outputSize, bytes)
	if rm.limits.MaxOutputSize > 0 && newSize > rm.limits.MaxOutputSize {
		rm.setExceeded("output size limit exceeded")
		return true
	}
	return false
}

// OutputSize returns the bytes logged so far.
func (rm *ResourceMonitor) OutputSize() int64 {
	return atomic.LoadInt64(&rm.outputSize)
}

// TryFileOp attempts to perform a file operation.
// Returns true if allowed, false if rate limited.
func (rm *ResourceMonitor) TryFileOp() bool {
	if !rm.fileOpsLimiter.Allow() {
		rm.setExceeded("file operation rate limit exceeded")
		return false
	}
	atomic.AddInt64(&rm.fileOps, 1)
	return true
}

// AllowWrite reports whether a write of size bytes is within the file limit.
func (rm *ResourceMonitor) AllowWrite(size int64) bool {
	if rm.limits.MaxFileSize > 0 && size > rm.limits.MaxFileSize {
		rm.setExceeded("file size limit exceeded")
		return false
	}
	atomic.AddInt64(&rm.bytesWritten, size)
	return true
}

// ExecutionTimeout returns the execution timeout.
func (rm *ResourceMonitor) ExecutionTimeout() time.Duration {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.limits.ExecutionTimeout
}

// Limits returns the current limits.
func (rm *ResourceMonitor) Limits() ResourceLimits {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.limits
}

// IsExceeded returns true if any limit was exceeded.
func (rm *ResourceMonitor) IsExceeded() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.exceeded
}

// ExceededReason returns the reason for limit exceeded, if any.
func (rm *ResourceMonitor) ExceededReason() string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.reason
}

func (rm *ResourceMonitor) setExceeded(reason string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if !rm.exceeded {
		rm.exceeded = true
		rm.reason = reason
	}
}

// RateLimiter implements a simple token bucket rate limiter.
type RateLimiter struct {
	mu sync.Mutex

	rate       int       // operations per second
	tokens     int       // current tokens
	maxTokens  int       // burst size
	lastRefill time.Time // last token refill time
}

// NewRateLimiter creates a new rate limiter. A non-positive rate disables
// limiting.
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{
		rate:       ratePerSecond,
		tokens:     ratePerSecond,
		maxTokens:  ratePerSecond,
		lastRefill: time.Now(),
	}
}

// Allow returns true if an operation is allowed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rate == 0 {
		return true
	}

	now := time.Now()
	tokensToAdd := int(now.Sub(rl.lastRefill).Seconds() * float64(rl.rate))
	if tokensToAdd > 0 {
		rl.tokens = min(rl.tokens+tokensToAdd, rl.maxTokens)
		rl.lastRefill = now
	}

	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	return true
}

// ResourceUsage is a snapshot of one run's consumption.
type ResourceUsage struct {
	OutputSize     int64
	FileOps        int64
	BytesWritten   int64
	Exceeded       bool
	ExceededReason string
}

// Usage returns a snapshot of current resource usage.
func (rm *ResourceMonitor) Usage() ResourceUsage {
	rm.mu.RLock()
	exceeded, reason := rm.exceeded, rm.reason
	rm.mu.RUnlock()

	return ResourceUsage{
		OutputSize:     rm.OutputSize(),
		FileOps:        atomic.LoadInt64(&rm.fileOps),
		BytesWritten:   atomic.LoadInt64(&rm.bytesWritten),
		Exceeded:       exceeded,
		ExceededReason: reason,
	}
}
