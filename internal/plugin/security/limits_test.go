package security

import (
	"testing"
	"time"
)

func TestDefaultResourceLimits(t *testing.T) {
	limits := DefaultResourceLimits()

	if limits.ExecutionTimeout != 30*time.Second {
		t.Errorf("ExecutionTimeout = %v, want %v", limits.ExecutionTimeout, 30*time.Second)
	}
	if limits.FileOpsPerSecond != 100 {
		t.Errorf("FileOpsPerSecond = %d, want %d", limits.FileOpsPerSecond, 100)
	}
	if limits.MaxOutputSize != 1*1024*1024 {
		t.Errorf("MaxOutputSize = %d, want %d", limits.MaxOutputSize, 1*1024*1024)
	}
}

func TestStrictResourceLimits(t *testing.T) {
	strict := StrictResourceLimits()
	def := DefaultResourceLimits()

	if strict.ExecutionTimeout >= def.ExecutionTimeout {
		t.Errorf("strict timeout %v should be below default %v", strict.ExecutionTimeout, def.ExecutionTimeout)
	}
	if strict.MaxOutputSize >= def.MaxOutputSize {
		t.Errorf("strict output %d should be below default %d", strict.MaxOutputSize, def.MaxOutputSize)
	}
}

func TestResourceMonitorOutput(t *testing.T) {
	rm := NewResourceMonitor(ResourceLimits{MaxOutputSize: 10})

	if rm.AddOutput(6) {
		t.Error("AddOutput(6) exceeded a limit of 10")
	}
	if !rm.AddOutput(6) {
		t.Error("AddOutput(6) twice should exceed a limit of 10")
	}
	if rm.OutputSize() != 12 {
		t.Errorf("OutputSize() = %d, want 12", rm.OutputSize())
	}
	if !rm.IsExceeded() || rm.ExceededReason() != "output size limit exceeded" {
		t.Errorf("exceeded = %v, reason = %q", rm.IsExceeded(), rm.ExceededReason())
	}
}

func TestResourceMonitorFirstReasonSticks(t *testing.T) {
	rm := NewResourceMonitor(ResourceLimits{MaxOutputSize: 1, MaxFileSize: 1})
	rm.AddOutput(2)
	rm.AllowWrite(2)

	if got := rm.ExceededReason(); got != "output size limit exceeded" {
		t.Errorf("ExceededReason() = %q", got)
	}
}

func TestResourceMonitorFileOps(t *testing.T) {
	rm := NewResourceMonitor(ResourceLimits{FileOpsPerSecond: 3})

	for i := 0; i < 3; i++ {
		if !rm.TryFileOp() {
			t.Fatalf("TryFileOp() #%d denied within burst", i)
		}
	}
	if rm.TryFileOp() {
		t.Error("TryFileOp() allowed past burst")
	}

	usage := rm.Usage()
	if usage.FileOps != 3 {
		t.Errorf("FileOps = %d, want 3", usage.FileOps)
	}
	if !usage.Exceeded {
		t.Error("Exceeded = false after rate limit")
	}
}

func TestResourceMonitorAllowWrite(t *testing.T) {
	rm := NewResourceMonitor(ResourceLimits{MaxFileSize: 100})

	if !rm.AllowWrite(100) {
		t.Error("AllowWrite(100) denied at the limit")
	}
	if rm.AllowWrite(101) {
		t.Error("AllowWrite(101) allowed over the limit")
	}
	if got := rm.Usage().BytesWritten; got != 100 {
		t.Errorf("BytesWritten = %d, want 100", got)
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 1000; i++ {
		if !rl.Allow() {
			t.Fatal("unlimited limiter denied an operation")
		}
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(100)
	for rl.Allow() {
	}
	time.Sleep(50 * time.Millisecond)
	if !rl.Allow() {
		t.Error("Allow() = false after refill interval")
	}
}
