//go:build !darwin

package permissions

import "errors"

// Other platforms have no per-app microphone permission to query.
func microphoneStatus() PermissionStatus {
	return PermissionAuthorized
}

func openMicrophoneSettings() error {
	return errors.New("microphone settings are only available on macOS")
}
