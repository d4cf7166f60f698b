package engine

import "time"

// EventType enumerates the stream event kinds.
type EventType string

const (
	EventStatus          EventType = "status"
	EventStdout          EventType = "stdout"
	EventInstallStart    EventType = "install_start"
	EventInstallComplete EventType = "install_complete"
	EventInstallError    EventType = "install_error"
	EventDependency      EventType = "dependency"
	EventHTMLPreview     EventType = "html_preview"
	EventError           EventType = "error"
	EventComplete        EventType = "complete"
)

// Event is one message on the server-to-client stream.
type Event struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp"`

	// install_start
	Packages []string `json:"packages,omitempty"`

	// dependency
	PackageManager string `json:"package_manager,omitempty"`
	PackageName    string `json:"package_name,omitempty"`
	InstallCommand string `json:"install_command,omitempty"`
}

func newEvent(t EventType, content string) Event {
	return Event{
		Type:      t,
		Content:   content,
		Timestamp: timestamp(),
	}
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
}
