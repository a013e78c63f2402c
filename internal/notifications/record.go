package notifications

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/charlesng35/marketlive/internal/payload"
)

// idNamespace seeds the deterministic ids given to records that arrive without one.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("marketlive/notifications"))

// Record is a single notification as shown in the bell list.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
	Type      string    `json:"type,omitempty"`
	Link      string    `json:"link,omitempty"`
}

// Decode reads a notification from any of the shapes the backend has produced over time.
// Timestamps that cannot be parsed fall back to now. A missing id is derived from title,
// message and the raw timestamp; without a timestamp a random id is assigned.
func Decode(raw []byte, now time.Time) (Record, error) {
	fields, err := payload.Parse(raw)
	if err != nil {
		return Record{}, fmt.Errorf("notifications: %w", err)
	}
	if fields.String("id", "notificationId", "title", "message", "content") == "" {
		if nested, ok := fields.Object("notification", "payload", "data"); ok {
			fields = nested
		}
	}

	record := Record{
		ID:      fields.String("id", "notificationId", "notification_id", "_id"),
		Title:   fields.String("title", "subject", "heading"),
		Message: fields.String("message", "content", "body", "text"),
		Type:    fields.String("type", "notificationType", "category"),
		Link:    fields.String("link", "url", "actionUrl", "action_url", "redirectUrl"),
	}

	record.Read = readFlag(fields)

	timestampKeys := []string{"createdAt", "created_at", "createdDate", "timestamp", "sentAt", "time"}
	if createdAt, ok := fields.Time(timestampKeys...); ok {
		record.CreatedAt = createdAt
	} else {
		record.CreatedAt = now.UTC()
	}

	if record.ID == "" {
		value, ok := fields.Lookup(timestampKeys...)
		if !ok {
			// Nothing identifies the item, so identical texts are still separate records.
			record.ID = uuid.NewString()
			return record, nil
		}
		encoded, _ := json.Marshal(value)
		name := strings.Join([]string{record.Title, record.Message, string(encoded)}, "|")
		record.ID = uuid.NewSHA1(idNamespace, []byte(name)).String()
	}

	return record, nil
}

func readFlag(fields payload.Fields) bool {
	if read, ok := fields.Bool("read", "isRead", "is_read", "seen", "isSeen"); ok {
		return read
	}
	status := strings.ToUpper(fields.String("readStatus", "status"))
	return status == "READ" || status == "SEEN"
}
