package usersink

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-rebind/pkg/audit"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts binding-transition audit events to a go-users ActivitySink,
// giving deployments a per-user record of who rebound what.
type Hook struct {
	Sink usertypes.ActivitySink
}

// Notify maps the event into an ActivityRecord and forwards it to the sink.
// Owner identities that parse as UUIDs become the acting user; everything
// else rides along in the record data.
func (h Hook) Notify(ctx context.Context, event audit.Event) error {
	if h.Sink == nil {
		return nil
	}

	normalized := audit.NormalizeEvent(event)
	if normalized.Verb == "" || normalized.Name == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	record := usertypes.ActivityRecord{
		ActorID:    parseUUID(normalized.OwnerID),
		UserID:     parseUUID(normalized.OwnerID),
		Verb:       normalized.Verb,
		ObjectType: "binding",
		ObjectID:   normalized.Name,
		Channel:    "rebind",
		Data:       cloneMap(normalized.Metadata),
		OccurredAt: normalized.OccurredAt,
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}
	if record.Data == nil {
		record.Data = map[string]any{}
	}
	record.Data["owner"] = normalized.OwnerID
	record.Data["before"] = normalized.Before
	record.Data["after"] = normalized.After
	record.Data["depth"] = normalized.Depth
	if normalized.Unit != "" {
		record.Data["unit"] = normalized.Unit
	}

	return h.Sink.Log(ctx, record)
}

func parseUUID(input string) uuid.UUID {
	value := strings.TrimSpace(input)
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
