//go:build !unix

package logging

func isIgnorableSyncError(error) bool {
	return false
}
