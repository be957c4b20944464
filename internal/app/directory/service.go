package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/staffhub/taskcore/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail           = errors.New("email is required")
	ErrInvalidPassword        = errors.New("password must be at least 8 characters")
	ErrInvalidRole            = errors.New("invalid role")
	ErrInvalidDepartment      = errors.New("department_id is required")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrDepartmentNameRequired = errors.New("department name is required")
)

type AuthResponse struct {
	Token        string `json:"token"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id"`
}

type Service struct {
	Repo      Repository
	AuthToken auth.Manager
	NewID     func() string
	Now       func() time.Time
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{
		Repo:      repo,
		AuthToken: tokenManager,
		NewID:     nuid.Next,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if normalizeEmail(email) == "" {
		return ErrInvalidEmail
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) Register(ctx context.Context, email, fullName, password, role, departmentID string) (AuthResponse, error) {
	if err := validateCredentials(email, password); err != nil {
		return AuthResponse{}, err
	}
	parsedRole, ok := ParseRole(strings.TrimSpace(role))
	if !ok {
		return AuthResponse{}, ErrInvalidRole
	}
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return AuthResponse{}, ErrInvalidDepartment
	}
	if _, err := s.Repo.FindDepartmentByID(ctx, departmentID); err != nil {
		return AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	u := User{
		ID:           s.NewID(),
		Email:        normalizeEmail(email),
		FullName:     strings.TrimSpace(fullName),
		Role:         parsedRole,
		DepartmentID: departmentID,
		PasswordHash: string(hash),
		Active:       true,
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return AuthResponse{}, err
	}
	return s.issueToken(u)
}

func (s *Service) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if !u.Active {
		return AuthResponse{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueToken(u)
}

// Resolve maps a principal email to its directory record.
func (s *Service) Resolve(ctx context.Context, email string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, ErrNotFound
	}
	return s.Repo.FindUserByEmail(ctx, email)
}

func (s *Service) ResolveByID(ctx context.Context, userID string) (User, error) {
	return s.Repo.FindUserByID(ctx, userID)
}

// ResolveEmails returns the users that exist for the given emails. Unknown
// addresses are skipped, not errors; mention lists tolerate typos.
func (s *Service) ResolveEmails(ctx context.Context, emails []string) ([]User, error) {
	normalized := make([]string, 0, len(emails))
	for _, e := range emails {
		if n := normalizeEmail(e); n != "" {
			normalized = append(normalized, n)
		}
	}
	return s.Repo.FindUsersByEmails(ctx, normalized)
}

func (s *Service) Departments(ctx context.Context) ([]Department, error) {
	return s.Repo.ListDepartments(ctx)
}

func (s *Service) CreateDepartment(ctx context.Context, name string) (Department, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Department{}, ErrDepartmentNameRequired
	}
	d := Department{ID: s.NewID(), Name: name}
	if err := s.Repo.CreateDepartment(ctx, d); err != nil {
		return Department{}, err
	}
	return d, nil
}

// EnsureDepartment creates a department under a fixed id if it does not
// exist yet. The store insert ignores conflicts, so calling it on every
// startup is safe; it gives a fresh deployment a department to register
// the first users into.
func (s *Service) EnsureDepartment(ctx context.Context, id, name string) error {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return ErrDepartmentNameRequired
	}
	return s.Repo.CreateDepartment(ctx, Department{ID: id, Name: name})
}

func (s *Service) issueToken(user User) (AuthResponse, error) {
	token, err := s.AuthToken.Sign(user.ID, user.Email, string(user.Role), user.DepartmentID)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		Token:        token,
		UserID:       user.ID,
		Email:        user.Email,
		Role:         string(user.Role),
		DepartmentID: user.DepartmentID,
	}, nil
}

func NewTokenManager(secret string) auth.Manager {
	return auth.NewManager(secret, 24*time.Hour)
}
