package domain

import "time"

// NotificationType classifies a user-facing notice
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// Notification is a transient notice shown to the local user
type Notification struct {
	ID        string           `json:"id"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
}

// Notice is a notification that has not been assigned an identity yet
type Notice struct {
	Message string
	Type    NotificationType
}
