// Package threads persists visitor threads.
package threads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/threadgate/internal/thread"
	"github.com/mattjoyce/threadgate/internal/visibility"
)

var ErrThreadNotFound = errors.New("thread not found")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ visibility.ThreadLoader = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateRequest opens a new queued thread.
type CreateRequest struct {
	UserName string
	Remote   string
	Referer  string
	// NextAgent routes the thread to one operator; zero leaves it open to all.
	NextAgent int64
}

func (s *Store) Create(ctx context.Context, req CreateRequest) (*thread.Thread, error) {
	if req.NextAgent < 0 {
		return nil, fmt.Errorf("next agent must not be negative")
	}
	now := s.now()
	nowS := now.Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO thread(state, user_name, remote, referer, next_agent, created_at, modified_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, thread.StateQueue, req.UserName, req.Remote, req.Referer, req.NextAgent, nowS, nowS)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("thread id: %w", err)
	}
	return &thread.Thread{
		ID:        id,
		State:     thread.StateQueue,
		UserName:  req.UserName,
		Remote:    req.Remote,
		Referer:   req.Referer,
		NextAgent: req.NextAgent,
		Created:   now,
		Modified:  now,
	}, nil
}

// Load returns the full thread record.
func (s *Store) Load(ctx context.Context, id int64) (*thread.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT thread_id, state, user_name, remote, referer, agent_id, next_agent, created_at, modified_at
FROM thread WHERE thread_id = ?;
`, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrThreadNotFound, id)
	}
	return t, err
}

// Pending lists open threads, oldest first, as list rows.
func (s *Store) Pending(ctx context.Context) ([]thread.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT thread_id, state, user_name, remote, referer, agent_id, next_agent, created_at, modified_at
FROM thread
WHERE state NOT IN (?, ?)
ORDER BY created_at ASC, thread_id ASC;
`, thread.StateClosed, thread.StateLeft)
	if err != nil {
		return nil, fmt.Errorf("query pending threads: %w", err)
	}
	defer rows.Close()

	out := []thread.Summary{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t.Summarize())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending threads: %w", err)
	}
	return out, nil
}

// Assign moves a thread to state and records the operator handling it.
func (s *Store) Assign(ctx context.Context, id int64, state thread.State, agentID int64) error {
	if _, err := thread.ParseState(string(state)); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE thread SET state = ?, agent_id = ?, modified_at = ? WHERE thread_id = ?;
`, state, agentID, s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrThreadNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner) (*thread.Thread, error) {
	var (
		t                  thread.Thread
		state              string
		createdS, modified string
	)
	if err := row.Scan(&t.ID, &state, &t.UserName, &t.Remote, &t.Referer, &t.AgentID, &t.NextAgent, &createdS, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan thread: %w", err)
	}
	t.State = thread.State(state)

	var err error
	if t.Created, err = time.Parse(time.RFC3339Nano, createdS); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.Modified, err = time.Parse(time.RFC3339Nano, modified); err != nil {
		return nil, fmt.Errorf("parse modified_at: %w", err)
	}
	return &t, nil
}
