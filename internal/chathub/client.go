package chathub

import (
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/models"
)

// Client is one live connection as seen by the hub. It abstracts the
// transport so the hub can be driven by WebSocket clients and test doubles
// alike.
type Client interface {
	// GetConnectionID returns the id that is unique to this live connection.
	GetConnectionID() string
	// GetIdentity returns the user resolved when the connection was opened.
	GetIdentity() auth.Identity

	// GetSendChannel returns the buffered channel the hub writes outbound
	// events to. The hub never blocks on it.
	GetSendChannel() chan<- models.OutboundEvent

	// Run starts the client's read and write pumps.
	Run()
	// Close closes the send channel. The hub calls it exactly once, when the
	// connection is unregistered.
	Close()
}
