// Package uiautomator2 provides HTTP client for UIAutomator2 server.
package uiautomator2

// ErrorValue is the value of a failed UIAutomator2 response.
type ErrorValue struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse is a failed UIAutomator2 response.
type ErrorResponse struct {
	Value ErrorValue `json:"value"`
}

// Capabilities for session creation.
type Capabilities struct {
	PlatformName string `json:"platformName,omitempty"`
	DeviceName   string `json:"deviceName,omitempty"`
}

// SessionRequest for creating a session.
type SessionRequest struct {
	Capabilities Capabilities `json:"capabilities"`
}

// KeyCodeRequest for pressing keys.
type KeyCodeRequest struct {
	KeyCode int `json:"keycode"`
}

// SettingsRequest for updating settings.
type SettingsRequest struct {
	Settings map[string]interface{} `json:"settings"`
}

// Android key codes used by the driver.
const (
	KeyCodeSleep  = 223
	KeyCodeWakeUp = 224
)

// Server settings.
const (
	// SettingIgnoreUnimportantViews maps to UiAutomation's compressed layout
	// hierarchy flag. Changing it reconfigures the accessibility service.
	SettingIgnoreUnimportantViews = "ignoreUnimportantViews"

	// SettingWaitForIdleTimeout is how long the server itself waits for idle
	// before each command, in milliseconds.
	SettingWaitForIdleTimeout = "waitForIdleTimeout"
)
