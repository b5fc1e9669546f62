//go:build !linux

package runtime

// hasPtraceCapability reports false on platforms without Linux capabilities.
func hasPtraceCapability() (bool, error) {
	return false, nil
}
