package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit rows to the events table inside the caller's
// transaction.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, journalID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,journal_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(journalID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

// AppendEvent records a bus event as an audit row.
func (w Writer) AppendEvent(ctx context.Context, tx *sql.Tx, entityKind, entityID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Name(), err)
	}
	var payload EventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Name(), err)
	}
	return w.Append(ctx, tx, string(ev.Name()), ev.JournalID(), entityKind, entityID, ev.ActorID(), payload)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
