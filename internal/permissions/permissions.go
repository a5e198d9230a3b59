// Package permissions reports whether the OS lets the app use the microphone.
package permissions

// PermissionStatus represents the status of a system permission
type PermissionStatus int

const (
	// PermissionNotDetermined means the user hasn't been asked yet
	PermissionNotDetermined PermissionStatus = 0
	// PermissionRestricted means the permission is restricted by parental controls
	PermissionRestricted PermissionStatus = 1
	// PermissionDenied means the user has explicitly denied the permission
	PermissionDenied PermissionStatus = 2
	// PermissionAuthorized means the user has authorized the permission
	PermissionAuthorized PermissionStatus = 3
)

// PermissionChecker checks microphone access
type PermissionChecker struct{}

// NewPermissionChecker creates a new permission checker
func NewPermissionChecker() *PermissionChecker {
	return &PermissionChecker{}
}

// CheckMicrophonePermission returns the current microphone permission status
func (pc *PermissionChecker) CheckMicrophonePermission() PermissionStatus {
	return microphoneStatus()
}

// IsMicrophoneAuthorized returns whether microphone permission is granted
func (pc *PermissionChecker) IsMicrophoneAuthorized() bool {
	return pc.CheckMicrophonePermission() == PermissionAuthorized
}

// IsMicrophoneBlocked returns whether opening the microphone will fail for
// lack of permission. NotDetermined is not blocked: opening the stream
// triggers the OS prompt.
func (pc *PermissionChecker) IsMicrophoneBlocked() bool {
	status := pc.CheckMicrophonePermission()
	return status == PermissionDenied || status == PermissionRestricted
}

// RequestMicrophonePermission opens the system settings pane for the microphone
func (pc *PermissionChecker) RequestMicrophonePermission() error {
	return openMicrophoneSettings()
}

// String returns the string representation of the status
func (ps PermissionStatus) String() string {
	switch ps {
	case PermissionNotDetermined:
		return "NotDetermined"
	case PermissionRestricted:
		return "Restricted"
	case PermissionDenied:
		return "Denied"
	case PermissionAuthorized:
		return "Authorized"
	default:
		return "Unknown"
	}
}

// GetPermissionStatusMessage returns a human-readable message for a permission status
func GetPermissionStatusMessage(status PermissionStatus) string {
	switch status {
	case PermissionNotDetermined:
		return "Permission not yet determined"
	case PermissionRestricted:
		return "Permission restricted by parental controls"
	case PermissionDenied:
		return "Permission denied"
	case PermissionAuthorized:
		return "Permission authorized"
	default:
		return "Unknown permission status"
	}
}
