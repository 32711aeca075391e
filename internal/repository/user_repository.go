package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/repository/common"
)

var (
	// ErrUserNotFound возвращается, когда запись пользователя не найдена.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound возвращается, когда сессия не найдена или принадлежит другому пользователю.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStripeAccountTaken возвращается, когда подключённый аккаунт уже привязан к другому пользователю.
	ErrStripeAccountTaken = errors.New("stripe account already linked")
)

const userColumns = `id, email, username, password_hash, role, is_active, stripe_account_id, onboarding_complete, last_login_at, created_at, updated_at`

// UserRepository отвечает за работу с таблицами users и user_sessions.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository создаёт экземпляр репозитория.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create создаёт нового пользователя.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, username, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING id, is_active, created_at, updated_at
	`

	if err := r.db.QueryRowxContext(
		ctx, query,
		user.Email, user.Username, user.PasswordHash, user.Role,
	).Scan(&user.ID, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if common.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("user repository: create %w", err)
	}

	return nil
}

// GetByEmail возвращает пользователя по email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email", email)
}

// GetByID возвращает пользователя по идентификатору.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getOne(ctx, "id", id)
}

// GetByStripeAccount возвращает владельца подключённого аккаунта.
func (r *UserRepository) GetByStripeAccount(ctx context.Context, accountID string) (*models.User, error) {
	return r.getOne(ctx, "stripe_account_id", accountID)
}

func (r *UserRepository) getOne(ctx context.Context, field string, value interface{}) (*models.User, error) {
	var user models.User
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s = $1`, userColumns, field)
	if err := r.db.GetContext(ctx, &user, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by %s %w", field, err)
	}

	return &user, nil
}

// SetStripeAccount привязывает подключённый аккаунт, если у пользователя его ещё нет.
// Возвращает актуальный идентификатор аккаунта (новый или ранее сохранённый).
func (r *UserRepository) SetStripeAccount(ctx context.Context, userID uuid.UUID, accountID string) (string, error) {
	query := `
		UPDATE users
		SET stripe_account_id = COALESCE(stripe_account_id, $2), updated_at = NOW()
		WHERE id = $1
		RETURNING stripe_account_id
	`

	var stored string
	if err := r.db.GetContext(ctx, &stored, query, userID, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUserNotFound
		}
		if common.IsUniqueViolation(err) {
			return "", ErrStripeAccountTaken
		}
		return "", fmt.Errorf("user repository: set stripe account %w", err)
	}

	return stored, nil
}

// UpdateOnboardingByAccount синхронизирует флаг завершения онбординга по аккаунту шлюза.
func (r *UserRepository) UpdateOnboardingByAccount(ctx context.Context, accountID string, complete bool) (*models.User, error) {
	query := fmt.Sprintf(`
		UPDATE users
		SET onboarding_complete = $2, updated_at = NOW()
		WHERE stripe_account_id = $1
		RETURNING %s
	`, userColumns)

	var user models.User
	if err := r.db.GetContext(ctx, &user, query, accountID, complete); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: update onboarding %w", err)
	}

	return &user, nil
}

// UpdateAccount меняет email и имя пользователя.
// Занятый email или username даёт common.ErrAlreadyExists.
func (r *UserRepository) UpdateAccount(ctx context.Context, userID uuid.UUID, email, username string) (*models.User, error) {
	query := fmt.Sprintf(`
		UPDATE users
		SET email = $2, username = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, userColumns)

	var user models.User
	if err := r.db.GetContext(ctx, &user, query, userID, email, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if common.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("user repository: update account %w", err)
	}

	return &user, nil
}

// UpdateLastLoginAt обновляет время последнего входа пользователя.
func (r *UserRepository) UpdateLastLoginAt(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("user repository: update last login at %w", err)
	}

	return nil
}

// CreateSession сохраняет новую сессию пользователя.
func (r *UserRepository) CreateSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO user_sessions (user_id, refresh_token, user_agent, ip_address, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	if err := r.db.QueryRowxContext(
		ctx,
		query,
		session.UserID,
		session.RefreshToken,
		session.UserAgent,
		session.IPAddress,
		session.ExpiresAt,
	).Scan(&session.ID, &session.CreatedAt); err != nil {
		return fmt.Errorf("user repository: create session %w", err)
	}

	return nil
}

// GetSessionByToken возвращает действующую сессию по refresh токену.
func (r *UserRepository) GetSessionByToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	var session models.Session
	query := `
		SELECT id, user_id, refresh_token, user_agent, ip_address, expires_at, created_at
		FROM user_sessions
		WHERE refresh_token = $1 AND expires_at > NOW()
	`
	if err := r.db.GetContext(ctx, &session, query, refreshToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("user repository: get session %w", err)
	}

	return &session, nil
}

// DeleteSession удаляет сессию по refresh токену.
func (r *UserRepository) DeleteSession(ctx context.Context, refreshToken string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE refresh_token = $1`, refreshToken); err != nil {
		return fmt.Errorf("user repository: delete session %w", err)
	}

	return nil
}

// ListSessions возвращает список всех активных сессий пользователя.
func (r *UserRepository) ListSessions(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	query := `
		SELECT id, user_id, refresh_token, user_agent, ip_address, expires_at, created_at
		FROM user_sessions
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`

	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, userID); err != nil {
		return nil, fmt.Errorf("user repository: list sessions %w", err)
	}

	return sessions, nil
}

// DeleteSessionByID удаляет сессию по идентификатору.
func (r *UserRepository) DeleteSessionByID(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("user repository: delete session by id %w", err)
	}

	return common.ExpectOneRow(result, ErrSessionNotFound)
}

// DeleteAllSessionsExcept удаляет все сессии пользователя кроме указанной.
func (r *UserRepository) DeleteAllSessionsExcept(ctx context.Context, userID uuid.UUID, exceptRefreshToken string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = $1 AND refresh_token != $2`, userID, exceptRefreshToken)
	if err != nil {
		return fmt.Errorf("user repository: delete all sessions except %w", err)
	}

	return nil
}
