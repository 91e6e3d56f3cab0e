//go:build !unix && !windows

package index

// dirLock is a no-op where the platform offers no advisory file locks.
type dirLock struct{}

func lockDir(string) (*dirLock, error) {
	return &dirLock{}, nil
}

func (l *dirLock) release() error {
	return nil
}
