package realtime

// Streams exposed to local subscribers.
const (
	StreamNotifications = "notifications"
	StreamChat          = "chat"
	StreamTransport     = "transport"
)

// KnownStreams lists every stream a client may subscribe to.
var KnownStreams = []string{StreamNotifications, StreamChat, StreamTransport}
