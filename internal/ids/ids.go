package ids

import (
	"os"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a fresh, lexically time-ordered message id.
func NewMessageID() string {
	return ulid.Make().String()
}

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// ConsumerName builds a consumer name unique to this process: the host name
// followed by a UUID v7.
func ConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "router"
	}
	return host + "-" + NewUUIDv7().String()
}
