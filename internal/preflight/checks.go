package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const objectStoreCheck = "Object store"

// BucketChecker reports whether the configured publish bucket is usable.
// publish.Publisher implements it.
type BucketChecker interface {
	CheckBucket(ctx context.Context) error
}

// CheckObjectStore verifies that the publish bucket is reachable. It uses a
// 10-second timeout and a single attempt.
func CheckObjectStore(ctx context.Context, endpoint string, checker BucketChecker) Result {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := checker.CheckBucket(checkCtx); err != nil {
		return Result{Name: objectStoreCheck, Detail: fmt.Sprintf("%s (%s)", endpoint, summarizeNetError(err))}
	}
	return Result{Name: objectStoreCheck, Passed: true, Detail: fmt.Sprintf("%s (bucket reachable)", endpoint)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (object store unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (object store unreachable)"
	}
	return err.Error()
}
