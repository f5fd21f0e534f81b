// Package directory stores operator accounts and answers capability checks.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/threadgate/internal/thread"
)

var ErrOperatorNotFound = errors.New("operator not found")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AddRequest describes a new operator.
type AddRequest struct {
	Login       string
	Name        string
	Code        string
	Permissions thread.Permissions
}

// Add creates an operator and returns it with its assigned id.
func (s *Store) Add(ctx context.Context, req AddRequest) (*thread.Operator, error) {
	login := strings.TrimSpace(req.Login)
	if login == "" {
		return nil, fmt.Errorf("login is empty")
	}
	code := strings.TrimSpace(req.Code)
	var codeArg any
	if code != "" {
		codeArg = code
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO operator(login, name, code, permissions, created_at)
VALUES(?, ?, ?, ?, ?);
`, login, req.Name, codeArg, int64(req.Permissions), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert operator: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("operator id: %w", err)
	}
	return &thread.Operator{
		ID:          id,
		Login:       login,
		Name:        req.Name,
		Code:        code,
		Permissions: req.Permissions,
	}, nil
}

// OperatorByID resolves a session operator id.
func (s *Store) OperatorByID(ctx context.Context, id int64) (*thread.Operator, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT operator_id, login, name, code, permissions FROM operator WHERE operator_id = ?;
`, id)
	return scanOperator(row)
}

// OperatorByCode resolves the operator a visitor asked for.
func (s *Store) OperatorByCode(ctx context.Context, code string) (*thread.Operator, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrOperatorNotFound
	}
	row := s.db.QueryRowContext(ctx, `
SELECT operator_id, login, name, code, permissions FROM operator WHERE code = ?;
`, code)
	return scanOperator(row)
}

// List returns every operator ordered by id.
func (s *Store) List(ctx context.Context) ([]*thread.Operator, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT operator_id, login, name, code, permissions FROM operator ORDER BY operator_id;
`)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	var out []*thread.Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperator(row scanner) (*thread.Operator, error) {
	var (
		op    thread.Operator
		code  sql.NullString
		perms int64
	)
	err := row.Scan(&op.ID, &op.Login, &op.Name, &code, &perms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan operator: %w", err)
	}
	op.Code = code.String
	op.Permissions = thread.Permissions(perms)
	return &op, nil
}
