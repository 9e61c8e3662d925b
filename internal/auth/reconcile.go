package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/manas332/profile-official-sub000/internal/model"
	"github.com/manas332/profile-official-sub000/internal/repository"
)

// 照合結果（メトリクスのラベル）
const (
	ReconcileUpdated   = "updated"
	ReconcileMerged    = "merged"
	ReconcileCreated   = "created"
	ReconcileRecovered = "recovered"
	ReconcileFailed    = "failed"
)

// NameSanitizer は表示名のサニタイズを抽象化する。security.NameSanitizerが満たす。
type NameSanitizer interface {
	SanitizeName(raw string) string
}

// ReconcileRecorder は照合結果を記録する。
type ReconcileRecorder interface {
	RecordReconcile(outcome string)
}

// Reconciler はデコード済みのIDから永続ユーザーを検索または作成する。
// パスワード、OTP、フェデレーションのいずれのフローでも同じ手順を使う。
type Reconciler struct {
	users     repository.UserRepository
	sanitizer NameSanitizer
	recorder  ReconcileRecorder
	now       func() time.Time
}

// NewReconciler はReconcilerを生成する。sanitizerとrecorderはnilでもよい。
func NewReconciler(users repository.UserRepository, sanitizer NameSanitizer, recorder ReconcileRecorder) *Reconciler {
	return &Reconciler{
		users:     users,
		sanitizer: sanitizer,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Reconcile はincomingに対応する永続ユーザーを返す。
//
//  1. IDで見つかればプロフィールを更新して返す。
//  2. メールで見つかれば既存レコードのIDを維持したまま更新して返す。
//  3. どちらもなければincomingから作成する。
//
// メールは小文字に正規化してから照合する。
// 作成時の一意制約違反は同時サインインによる競合とみなし、ID、メールの順に再取得する。
func (r *Reconciler) Reconcile(ctx context.Context, incoming model.User) (*model.User, error) {
	// IdPはメールの大文字小文字を保持したまま返すことがある。OTPやパスワードのフローと同じく小文字で扱う
	incoming.Email = strings.ToLower(strings.TrimSpace(incoming.Email))
	if r.sanitizer != nil {
		incoming.Name = r.sanitizer.SanitizeName(incoming.Name)
	}

	user, outcome, err := r.reconcile(ctx, incoming)
	if err != nil {
		r.record(ReconcileFailed)
		return nil, err
	}
	r.record(outcome)
	return user, nil
}

func (r *Reconciler) reconcile(ctx context.Context, incoming model.User) (*model.User, string, error) {
	existing, err := r.users.FindByID(ctx, incoming.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find user by id: %w", err)
	}
	if existing != nil {
		user, err := r.merge(ctx, existing, incoming)
		return user, ReconcileUpdated, err
	}

	if incoming.Email != "" {
		existing, err = r.users.FindByEmail(ctx, incoming.Email)
		if err != nil {
			return nil, "", fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			outcome := ReconcileUpdated
			if existing.ID != incoming.ID {
				// 既存レコードのIDを正とし、incomingのsubjectは保存しない
				outcome = ReconcileMerged
				slog.Warn("identity merged into existing account",
					slog.String("user_id", existing.ID),
					slog.String("incoming_id", incoming.ID),
					slog.String("provider", string(incoming.Provider)),
				)
			}
			user, err := r.merge(ctx, existing, incoming)
			return user, outcome, err
		}
	}

	now := r.now()
	created := incoming
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = now

	err = r.users.Create(ctx, &created)
	if err == nil {
		slog.Info("new user created",
			slog.String("user_id", created.ID),
			slog.String("provider", string(created.Provider)),
		)
		return &created, ReconcileCreated, nil
	}
	if !errors.Is(err, repository.ErrAlreadyExists) {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	existing, err = r.refetch(ctx, incoming)
	if err != nil {
		return nil, "", err
	}
	user, err := r.merge(ctx, existing, incoming)
	return user, ReconcileRecovered, err
}

// refetch は作成競合に負けた後で既存レコードを取得する。
func (r *Reconciler) refetch(ctx context.Context, incoming model.User) (*model.User, error) {
	existing, err := r.users.FindByID(ctx, incoming.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to refetch user by id: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	if incoming.Email != "" {
		existing, err = r.users.FindByEmail(ctx, incoming.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to refetch user by email: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("user %s vanished after create conflict: %w", incoming.ID, repository.ErrNotFound)
}

// merge は空でない表示名と写真URLだけを上書きし、UpdatedAtを更新して保存する。
// ID、メール、プロバイダー、作成日時は既存の値を維持する。
func (r *Reconciler) merge(ctx context.Context, existing *model.User, incoming model.User) (*model.User, error) {
	merged := *existing
	if incoming.Name != "" {
		merged.Name = incoming.Name
	}
	if incoming.PhotoURL != "" {
		merged.PhotoURL = incoming.PhotoURL
	}
	merged.UpdatedAt = r.now()

	if err := r.users.UpdateProfile(ctx, &merged); err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	return &merged, nil
}

func (r *Reconciler) record(outcome string) {
	if r.recorder != nil {
		r.recorder.RecordReconcile(outcome)
	}
}
