package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"fabrik.dev/internal/audit"
)

// AuditSink appends events to the append-only audit_log table. There is no
// update or delete path; corrections are new events.
type AuditSink struct {
	db *sql.DB
}

var _ audit.Sink = (*AuditSink)(nil)

func (s *AuditSink) Append(ctx context.Context, e *audit.Event) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log(id, actor_uid, actor_role, action, target_uid, metadata, created_at)
		values ($1,$2,$3,$4,nullif($5,''),$6,$7)
	`, e.ID, e.ActorUID, e.ActorRole, e.Action, e.TargetUID, meta, e.CreatedAt)
	return err
}

// QueryByActor returns the actor's events ordered by event id. Ids are
// lexicographically sortable, so this is insertion order.
func (s *AuditSink) QueryByActor(ctx context.Context, actorUID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, actor_uid, actor_role, action, coalesce(target_uid,''), metadata, created_at
		from audit_log
		where actor_uid=$1
		order by id asc
	`, actorUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []audit.Event
	for rows.Next() {
		var e audit.Event
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ActorUID, &e.ActorRole, &e.Action, &e.TargetUID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, err
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
