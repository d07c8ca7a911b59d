package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/papertalk/papertalk/chat"
	"github.com/papertalk/papertalk/store"
)

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	turns, err := marshalTurns(create.Turns)
	if err != nil {
		return nil, err
	}

	stmt := `INSERT INTO conversation (uid, creator_id, title, turns, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.UID, create.CreatorID, create.Title, turns, create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}

	return create, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = ?"), append(args, *find.CreatorID)
	}

	query := `SELECT uid, creator_id, title, turns, created_ts, updated_ts FROM conversation
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_ts DESC, created_ts DESC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	list := make([]*store.Conversation, 0)
	for rows.Next() {
		c := &store.Conversation{}
		var turns []byte
		if err := rows.Scan(&c.UID, &c.CreatorID, &c.Title, &turns, &c.CreatedTs, &c.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		if c.Turns, err = unmarshalTurns(turns); err != nil {
			return nil, err
		}
		list = append(list, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate conversations")
	}

	return list, nil
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.Turns != nil {
		turns, err := marshalTurns(*update.Turns)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "turns = ?"), append(args, turns)
	}

	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.UID)
	stmt := `UPDATE conversation SET ` + strings.Join(set, ", ") + ` WHERE uid = ?
		RETURNING uid, creator_id, title, turns, created_ts, updated_ts`

	result := &store.Conversation{}
	var turns []byte
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&result.UID, &result.CreatorID, &result.Title, &turns, &result.CreatedTs, &result.UpdatedTs,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Errorf("conversation not found: %s", update.UID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to update conversation")
	}
	if result.Turns, err = unmarshalTurns(turns); err != nil {
		return nil, err
	}

	return result, nil
}

func (d *DB) DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM conversation WHERE uid = ?`, delete.UID); err != nil {
		return errors.Wrap(err, "failed to delete conversation")
	}
	return nil
}

func marshalTurns(turns []chat.Turn) ([]byte, error) {
	if turns == nil {
		turns = []chat.Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal turns")
	}
	return data, nil
}

func unmarshalTurns(data []byte) ([]chat.Turn, error) {
	turns := []chat.Turn{}
	if len(data) == 0 {
		return turns, nil
	}
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal turns")
	}
	return turns, nil
}
