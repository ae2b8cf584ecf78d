package redis

import "github.com/google/uuid"

// namespace keeps towd channels apart from anything else on the server.
const namespace = "towd"

// SessionChannel carries the push frames of one conversation session.
func SessionChannel(sessionID uuid.UUID) string {
	return namespace + ":session:" + sessionID.String()
}

// RefreshChannel announces completed turns of a session to derived views.
// It is never subscribed by chat clients.
func RefreshChannel(sessionID uuid.UUID) string {
	return namespace + ":refresh:" + sessionID.String()
}
