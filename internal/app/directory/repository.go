package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// Role is the closed set of workforce roles. Permission logic switches over
// it exhaustively; anything outside the set is denied.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleManager        Role = "manager"
	RoleDepartmentHead Role = "department_head"
	RoleStaff          Role = "staff"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleAdmin, RoleManager, RoleDepartmentHead, RoleStaff:
		return Role(raw), true
	default:
		return "", false
	}
}

func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	Role         Role   `json:"role"`
	DepartmentID string `json:"department_id"`
	PasswordHash string `json:"-"`
	Active       bool   `json:"active"`
}

type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	CreateUser(ctx context.Context, user User) error
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)
	FindUsersByEmails(ctx context.Context, emails []string) ([]User, error)

	CreateDepartment(ctx context.Context, dept Department) error
	FindDepartmentByID(ctx context.Context, deptID string) (Department, error)
	ListDepartments(ctx context.Context) ([]Department, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createDepartmentsSQL = `
CREATE TABLE IF NOT EXISTS departments (
  id text PRIMARY KEY,
  name text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createUsersSQL = `
CREATE TABLE IF NOT EXISTS users (
  id text PRIMARY KEY,
  email text NOT NULL UNIQUE,
  full_name text NOT NULL DEFAULT '',
  role text NOT NULL,
  department_id text NOT NULL REFERENCES departments(id),
  password_hash text NOT NULL,
  active boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL DEFAULT now()
)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createDepartmentsSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createUsersSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user User) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO users (id, email, full_name, role, department_id, password_hash, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.FullName, string(user.Role), user.DepartmentID, user.PasswordHash, user.Active,
	)
	return err
}

const selectUserSQL = `SELECT id, email, full_name, role, department_id, password_hash, active FROM users`

func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return r.scanUser(r.Pool.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email))
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID string) (User, error) {
	return r.scanUser(r.Pool.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, userID))
}

func (r *PostgresRepository) scanUser(row pgx.Row) (User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &role, &u.DepartmentID, &u.PasswordHash, &u.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

func (r *PostgresRepository) FindUsersByEmails(ctx context.Context, emails []string) ([]User, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	rows, err := r.Pool.Query(ctx, selectUserSQL+` WHERE email = ANY($1)`, emails)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0, len(emails))
	for rows.Next() {
		var u User
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &role, &u.DepartmentID, &u.PasswordHash, &u.Active); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *PostgresRepository) CreateDepartment(ctx context.Context, dept Department) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO departments (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		dept.ID, dept.Name,
	)
	return err
}

func (r *PostgresRepository) FindDepartmentByID(ctx context.Context, deptID string) (Department, error) {
	var d Department
	err := r.Pool.QueryRow(ctx, `SELECT id, name FROM departments WHERE id = $1`, deptID).Scan(&d.ID, &d.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Department{}, ErrNotFound
		}
		return Department{}, err
	}
	return d, nil
}

func (r *PostgresRepository) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := r.Pool.Query(ctx, `SELECT id, name FROM departments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depts := make([]Department, 0)
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		depts = append(depts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return depts, nil
}
