package eventbus

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel is the Postgres NOTIFY channel dashboards subscribe to for
// realtime event-bus activity.
const notifyChannel = "flowcore_events"

type eventNotification struct {
	EventName      string `json:"event_name"`
	OrganizationID string `json:"organization_id"`
}

// Notifier sends a NOTIFY after Emit dispatches, so any LISTEN client
// attached to notifyChannel can push the activity to connected dashboards
// without polling. It is a best-effort side channel: Emit never fails
// because of it.
type Notifier struct {
	pool *pgxpool.Pool
}

func NewNotifier(pool *pgxpool.Pool) *Notifier {
	return &Notifier{pool: pool}
}

func (n *Notifier) Notify(ctx context.Context, eventName, organizationID string) error {
	if n == nil || n.pool == nil {
		return nil
	}
	payload, err := json.Marshal(eventNotification{EventName: eventName, OrganizationID: organizationID})
	if err != nil {
		return err
	}
	_, err = n.pool.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(payload))
	return err
}
