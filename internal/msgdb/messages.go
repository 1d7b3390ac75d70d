package msgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
)

// View is the store as seen by one user. It implements msgapi.Service.
type View struct {
	store  *Store
	viewer int64
}

var _ msgapi.Service = (*View)(nil)

// ForUser returns the view of viewer.
func (s *Store) ForUser(viewer int64) (*View, error) {
	if viewer <= 0 {
		return nil, ErrNoViewer
	}
	return &View{store: s, viewer: viewer}, nil
}

// Viewer returns the viewing user.
func (v *View) Viewer() int64 { return v.viewer }

const messageColumns = `
	m.id, m.sender_id, m.recipient_type, m.recipient_id, m.content, m.message_type,
	m.parent_id, m.link_url, m.link_title, m.created_at, m.updated_at,
	(m.sender_id = ? OR EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?)),
	(SELECT COUNT(*) FROM message_reads r WHERE r.message_id = m.id)`

// visibleClause limits rows to conversations the viewer takes part in.
const visibleClause = `(
	(m.recipient_type = 'USER' AND (m.sender_id = ? OR m.recipient_id = ?))
	OR (m.recipient_type = 'TEAM' AND m.recipient_id IN (SELECT team_id FROM team_members WHERE user_id = ?))
)`

// messageQuery accumulates the WHERE clause of a message select.
type messageQuery struct {
	viewer int64
	where  []string
	args   []any
}

func newMessageQuery(viewer int64) *messageQuery {
	return &messageQuery{
		viewer: viewer,
		where:  []string{visibleClause},
		args:   []any{viewer, viewer, viewer},
	}
}

func (q *messageQuery) and(clause string, args ...any) {
	q.where = append(q.where, clause)
	q.args = append(q.args, args...)
}

// conversation restricts to the conversation the viewer addresses as r.
func (q *messageQuery) conversation(r models.Recipient) {
	if r.Kind == models.RecipientTeam {
		q.and(`m.recipient_type = 'TEAM' AND m.recipient_id = ?`, r.ID)
		return
	}
	q.and(`m.recipient_type = 'USER' AND ((m.sender_id = ? AND m.recipient_id = ?) OR (m.sender_id = ? AND m.recipient_id = ?))`,
		q.viewer, r.ID, r.ID, q.viewer)
}

func (q *messageQuery) build(suffix string, suffixArgs ...any) (string, []any) {
	query := "SELECT " + messageColumns + " FROM messages m WHERE " + strings.Join(q.where, " AND ")
	if suffix != "" {
		query += " " + suffix
	}
	args := make([]any, 0, len(q.args)+len(suffixArgs)+2)
	args = append(args, q.viewer, q.viewer)
	args = append(args, q.args...)
	args = append(args, suffixArgs...)
	return query, args
}

func (v *View) query(ctx context.Context, q *messageQuery, suffix string, suffixArgs ...any) ([]models.Message, error) {
	query, args := q.build(suffix, suffixArgs...)
	rows, err := v.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message query error: %w", err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var (
		id            int64
		senderID      int64
		recipientType string
		recipientID   int64
		content       string
		messageType   string
		parentID      sql.NullInt64
		linkURL       string
		linkTitle     string
		createdRaw    string
		updatedRaw    string
		readByMe      bool
		readByCount   int
	)
	if err := row.Scan(&id, &senderID, &recipientType, &recipientID, &content, &messageType,
		&parentID, &linkURL, &linkTitle, &createdRaw, &updatedRaw, &readByMe, &readByCount); err != nil {
		return models.Message{}, fmt.Errorf("failed to scan message row: %w", err)
	}

	msg := models.Message{
		ID:          models.ServerID(id),
		SenderID:    senderID,
		Recipient:   models.Recipient{Kind: models.RecipientKind(recipientType), ID: recipientID},
		Content:     content,
		Type:        models.MessageType(messageType),
		LinkURL:     linkURL,
		LinkTitle:   linkTitle,
		CreatedAt:   parseTime(createdRaw),
		UpdatedAt:   parseTime(updatedRaw),
		ReadByMe:    readByMe,
		ReadByCount: readByCount,
	}
	if parentID.Valid {
		parent := parentID.Int64
		msg.ParentID = &parent
	}
	return msg, nil
}

// ListMessages implements msgapi.Service.
func (v *View) ListMessages(ctx context.Context, lq msgapi.ListQuery) ([]models.Message, error) {
	q := newMessageQuery(v.viewer)
	if lq.SinceID > 0 {
		q.and(`m.id > ?`, lq.SinceID)
	}
	if lq.BeforeID > 0 {
		q.and(`m.id < ?`, lq.BeforeID)
	}
	if lq.Recipient != nil {
		if err := lq.Recipient.Validate(); err != nil {
			return nil, err
		}
		q.conversation(*lq.Recipient)
	}
	if lq.Search != "" {
		q.and(`LOWER(m.content) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(lq.Search))+"%")
	}

	var (
		suffix  string
		args    []any
		reverse bool
	)
	switch {
	case lq.Descending():
		suffix = "ORDER BY m.id DESC"
	case lq.Limit > 0 && lq.SinceID == 0:
		// Newest page, returned oldest first.
		suffix = "ORDER BY m.id DESC"
		reverse = true
	default:
		suffix = "ORDER BY m.id ASC"
	}
	if lq.Limit > 0 {
		suffix += " LIMIT ?"
		args = append(args, lq.Limit)
	}

	messages, err := v.query(ctx, q, suffix, args...)
	if err != nil {
		return nil, err
	}
	if reverse {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

// ListModifiedMessages implements msgapi.Service.
func (v *View) ListModifiedMessages(ctx context.Context, after time.Time) ([]models.Message, error) {
	q := newMessageQuery(v.viewer)
	q.and(`m.updated_at > ?`, formatTime(after))
	return v.query(ctx, q, "ORDER BY m.id ASC")
}

// Get returns one visible message.
func (v *View) Get(ctx context.Context, id int64) (models.Message, error) {
	q := newMessageQuery(v.viewer)
	q.and(`m.id = ?`, id)
	query, args := q.build("")
	msg, err := scanMessage(v.store.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Message{}, fmt.Errorf("message %d: %w", id, ErrNotFound)
		}
		return models.Message{}, err
	}
	return msg, nil
}

// CreateMessage implements msgapi.Service.
func (v *View) CreateMessage(ctx context.Context, req msgapi.CreateRequest) (models.Message, error) {
	if err := req.Validate(); err != nil {
		return models.Message{}, err
	}
	msgType, _ := models.ParseMessageType(string(req.Type))

	if req.Recipient.Kind == models.RecipientTeam {
		member, err := v.store.isMember(ctx, req.Recipient.ID, v.viewer)
		if err != nil {
			return models.Message{}, err
		}
		if !member {
			return models.Message{}, fmt.Errorf("post to team %d: %w", req.Recipient.ID, ErrForbidden)
		}
	}
	if req.ParentID != nil {
		if _, err := v.Get(ctx, *req.ParentID); err != nil {
			validation := &models.ValidationErrors{}
			validation.Add("parentId", err)
			return models.Message{}, validation.Err()
		}
	}

	now := formatTime(v.store.now())
	var parent any
	if req.ParentID != nil {
		parent = *req.ParentID
	}

	var id int64
	err := v.store.transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (sender_id, recipient_type, recipient_id, content, message_type,
				parent_id, link_url, link_title, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, v.viewer, string(req.Recipient.Kind), req.Recipient.ID, strings.TrimSpace(req.Content), string(msgType),
			parent, strings.TrimSpace(req.LinkURL), strings.TrimSpace(req.LinkTitle), now, now)
		if err != nil {
			return fmt.Errorf("failed to store message: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return v.Get(ctx, id)
}

// UpdateMessage implements msgapi.Service. Only the sender may edit.
func (v *View) UpdateMessage(ctx context.Context, id int64, req msgapi.UpdateRequest) (models.Message, error) {
	if req.Empty() {
		return models.Message{}, ErrNothingToUpdate
	}
	current, err := v.Get(ctx, id)
	if err != nil {
		return models.Message{}, err
	}
	if current.SenderID != v.viewer {
		return models.Message{}, fmt.Errorf("edit message %d: %w", id, ErrForbidden)
	}

	sets := []string{"updated_at = ?"}
	args := []any{formatTime(v.store.now())}
	validation := &models.ValidationErrors{}
	if req.Content != nil {
		content := strings.TrimSpace(*req.Content)
		if content == "" {
			validation.Add("content", models.ErrEmptyContent)
		}
		sets = append(sets, "content = ?")
		args = append(args, content)
	}
	if req.Type != nil {
		msgType, err := models.ParseMessageType(string(*req.Type))
		validation.Add("messageType", err)
		sets = append(sets, "message_type = ?")
		args = append(args, string(msgType))
	}
	if req.LinkURL != nil {
		sets = append(sets, "link_url = ?")
		args = append(args, strings.TrimSpace(*req.LinkURL))
	}
	if req.LinkTitle != nil {
		sets = append(sets, "link_title = ?")
		args = append(args, strings.TrimSpace(*req.LinkTitle))
	}
	if err := validation.Err(); err != nil {
		return models.Message{}, err
	}
	args = append(args, id)

	err = v.store.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE messages SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return v.Get(ctx, id)
}

// DeleteMessage implements msgapi.Service. Only the sender may delete.
func (v *View) DeleteMessage(ctx context.Context, id int64) error {
	current, err := v.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.SenderID != v.viewer {
		return fmt.Errorf("delete message %d: %w", id, ErrForbidden)
	}
	return v.store.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return nil
	})
}

// MarkChatRead implements msgapi.Service. Newly read messages get a fresh
// updated_at so their read count reaches other participants through the
// modified stream.
func (v *View) MarkChatRead(ctx context.Context, r models.Recipient) error {
	if err := r.Validate(); err != nil {
		return err
	}
	q := newMessageQuery(v.viewer)
	q.conversation(r)
	q.and(`m.sender_id != ?`, v.viewer)
	q.and(`NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?)`, v.viewer)
	where := strings.Join(q.where, " AND ")
	now := formatTime(v.store.now())

	return v.store.transaction(ctx, func(tx *sql.Tx) error {
		// The update must run first: afterwards the NOT EXISTS clause no
		// longer matches.
		updateArgs := append([]any{now}, q.args...)
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET updated_at = ? WHERE id IN (SELECT m.id FROM messages m WHERE `+where+`)`,
			updateArgs...); err != nil {
			return fmt.Errorf("failed to touch read messages: %w", err)
		}
		insertArgs := append([]any{v.viewer, now}, q.args...)
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
			 SELECT m.id, ?, ? FROM messages m WHERE `+where,
			insertArgs...); err != nil {
			return fmt.Errorf("failed to record reads: %w", err)
		}
		return nil
	})
}

// UnreadCountsDetailed implements msgapi.Service.
func (v *View) UnreadCountsDetailed(ctx context.Context) (models.UnreadCounts, error) {
	q := newMessageQuery(v.viewer)
	q.and(`m.sender_id != ?`, v.viewer)
	q.and(`NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?)`, v.viewer)

	query := `
		SELECT m.recipient_type,
		       CASE m.recipient_type WHEN 'TEAM' THEN m.recipient_id ELSE m.sender_id END AS other,
		       COUNT(*)
		FROM messages m
		WHERE ` + strings.Join(q.where, " AND ") + `
		GROUP BY 1, 2`

	rows, err := v.store.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}
	defer rows.Close()

	counts := make(models.UnreadCounts)
	for rows.Next() {
		var (
			kind  string
			other int64
			n     int
		)
		if err := rows.Scan(&kind, &other, &n); err != nil {
			return nil, fmt.Errorf("failed to scan unread count: %w", err)
		}
		counts[models.RecipientKey(models.Recipient{Kind: models.RecipientKind(kind), ID: other})] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unread count query error: %w", err)
	}
	return counts, nil
}

// Audience returns the users other than the sender who can see msg.
func (s *Store) Audience(ctx context.Context, msg models.Message) ([]int64, error) {
	if msg.Recipient.Kind != models.RecipientTeam {
		if msg.Recipient.ID == msg.SenderID {
			return nil, nil
		}
		return []int64{msg.Recipient.ID}, nil
	}
	team, err := s.team(ctx, msg.Recipient.ID)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(team.MemberIDs))
	for _, id := range team.MemberIDs {
		if id != msg.SenderID {
			out = append(out, id)
		}
	}
	return out, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
