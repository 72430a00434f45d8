package notify

import "github.com/google/uuid"

// Action is the tappable part of a notification.
type Action struct {
	Label    string `json:"label"`
	DeepLink string `json:"deep_link"`
}

// Notification is one presentable alert. It is handed to the presentation
// layer immediately and never persisted.
type Notification struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Action Action `json:"action"`
}

// IDProvider issues identifiers for emitted notifications.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
