package filestore

import (
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// syncWithRetry calls f.Sync(), retrying a small, bounded number of times on
// EINTR -- a signal arriving mid-syscall is not a disk failure and the spec
// requires IOFailure to mean the filesystem actually rejected the write, not
// that a retry would have succeeded.
func syncWithRetry(f *os.File) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)

	return backoff.Retry(func() error {
		err := f.Sync()
		if err == nil {
			return nil
		}
		if pathErr, ok := err.(*os.PathError); ok && pathErr.Err == syscall.EINTR {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
