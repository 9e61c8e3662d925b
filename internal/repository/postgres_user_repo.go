package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/manas332/profile-official-sub000/internal/model"
)

const usersTable = "users"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, photo_url, provider, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row, "by ID")
}

// FindByEmail はメールアドレスでユーザーを取得する。大文字小文字は区別しない。
// 同じメールが複数あれば最も古いレコードを返し、見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, photo_url, provider, created_at, updated_at
		 FROM users WHERE lower(email) = lower($1)
		 ORDER BY created_at ASC
		 LIMIT 1`,
		email,
	)
	return scanUser(row, "by email")
}

// Create はユーザーを作成する。主キー重複時はErrAlreadyExistsを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, photo_url, provider, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.Name, user.PhotoURL, string(user.Provider), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", classify(err, usersTable))
	}
	return nil
}

// UpdateProfile はプロフィール属性とupdated_atを更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, photo_url = $3, updated_at = $4 WHERE id = $1`,
		user.ID, user.Name, user.PhotoURL, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", classify(err, usersTable))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	return nil
}

func scanUser(row *sql.Row, lookup string) (*model.User, error) {
	user := &model.User{}
	var provider string
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PhotoURL, &provider, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %s: %w", lookup, classify(err, usersTable))
	}
	user.Provider = model.Provider(provider)
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
