package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/stanstork/lms-import/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmailTaken is returned when another account in the tenant already uses the email.
var ErrEmailTaken = errors.New("email already registered")

type AccountRepository interface {
	FindUserByEmail(ctx context.Context, tenantID, email string) (models.User, error)
	CreateUser(ctx context.Context, user models.User, password string, profile models.Profile) (models.User, error)
}

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) FindUserByEmail(ctx context.Context, tenantID, email string) (models.User, error) {
	const query = `
		SELECT id, tenant_id, email, first_name, last_name, is_active, roles, created_at
		FROM tenant.users
		WHERE tenant_id = $1 AND lower(email) = lower($2) AND deleted_at IS NULL`

	var (
		user  models.User
		roles pq.StringArray
	)
	err := r.db.QueryRowContext(ctx, query, tenantID, strings.TrimSpace(email)).Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.IsActive,
		&roles,
		&user.CreatedAt,
	)
	if err != nil {
		return models.User{}, err
	}
	user.Roles = models.EnsureDefaultRole(toUserRoleSlice(roles))
	return user, nil
}

// CreateUser inserts the account and its profile in one transaction. The password is stored as a bcrypt hash.
func (r *accountRepository) CreateUser(ctx context.Context, user models.User, password string, profile models.Profile) (models.User, error) {
	if len(user.Roles) == 0 {
		user.Roles = []models.UserRole{models.RoleViewer}
	}
	if !models.IsValidRoleList(user.Roles) {
		return models.User{}, errors.New("invalid roles")
	}
	user.Roles = models.EnsureDefaultRole(models.NormalizeRoles(user.Roles))
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.FirstName = strings.TrimSpace(user.FirstName)
	user.LastName = strings.TrimSpace(user.LastName)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}
	user.PasswordHash = string(hash)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.User{}, err
	}
	defer tx.Rollback()

	const insertUser = `
		INSERT INTO tenant.users (tenant_id, email, first_name, last_name, password_hash, is_active, roles)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	err = tx.QueryRowContext(ctx, insertUser,
		user.TenantID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.IsActive,
		pq.Array(toStringSlice(user.Roles)),
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, err
	}

	const insertProfile = `
		INSERT INTO tenant.profiles (user_id, full_name)
		VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, insertProfile, user.ID, strings.TrimSpace(profile.FullName)); err != nil {
		return models.User{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func toStringSlice(roles []models.UserRole) []string {
	result := make([]string, 0, len(roles))
	for _, role := range roles {
		result = append(result, string(role))
	}
	return result
}

func toUserRoleSlice(roles []string) []models.UserRole {
	result := make([]models.UserRole, 0, len(roles))
	for _, role := range roles {
		result = append(result, models.UserRole(role))
	}
	return models.NormalizeRoles(result)
}
