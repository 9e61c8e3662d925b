package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/manas332/profile-official-sub000/internal/model"
)

const credentialsTable = "credentials"

// PostgresCredentialRepo はPostgreSQLを使用した資格情報リポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByEmail はメールアドレスの資格情報を取得する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	cred := &model.Credential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT email, subject, name, password_hash, created_at FROM credentials WHERE email = $1`,
		email,
	).Scan(&cred.Email, &cred.Subject, &cred.Name, &cred.PasswordHash, &cred.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", classify(err, credentialsTable))
	}
	return cred, nil
}

// Create は資格情報を作成する。メール重複時はErrAlreadyExistsを返す。
func (r *PostgresCredentialRepo) Create(ctx context.Context, cred *model.Credential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (email, subject, name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		cred.Email, cred.Subject, cred.Name, cred.PasswordHash, cred.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", classify(err, credentialsTable))
	}
	return nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
