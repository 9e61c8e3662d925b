package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/manas332/profile-official-sub000/internal/model"
	"github.com/manas332/profile-official-sub000/internal/repository"
)

// --- インメモリ実装 ---

// memUserRepo はrepository.UserRepositoryのインメモリ実装。
// createErrが設定されていればCreateはそれを返す。
type memUserRepo struct {
	mu        sync.Mutex
	users     map[string]model.User
	creates   int
	createErr error
	findErr   error
	// beforeCreate はCreateの直前に呼ばれる（競合の再現用）。
	beforeCreate func(r *memUserRepo)
}

func newMemUserRepo(seed ...model.User) *memUserRepo {
	r := &memUserRepo{users: map[string]model.User{}}
	for _, u := range seed {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var matches []model.User
	for _, u := range r.users {
		if u.Email == email {
			matches = append(matches, u)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return &matches[0], nil
}

func (r *memUserRepo) Create(ctx context.Context, user *model.User) error {
	if r.beforeCreate != nil {
		r.beforeCreate(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.users[user.ID]; ok {
		return &repository.StoreError{Kind: repository.ErrAlreadyExists, Resource: "users"}
	}
	r.creates++
	r.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Name = user.Name
	existing.PhotoURL = user.PhotoURL
	existing.UpdatedAt = user.UpdatedAt
	r.users[user.ID] = existing
	return nil
}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// memOTPRepo はrepository.OTPRepositoryのインメモリ実装。
type memOTPRepo struct {
	mu      sync.Mutex
	records map[string]model.OTPRecord
}

func newMemOTPRepo() *memOTPRepo {
	return &memOTPRepo{records: map[string]model.OTPRecord{}}
}

func (r *memOTPRepo) Put(ctx context.Context, record *model.OTPRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.Email] = *record
	return nil
}

func (r *memOTPRepo) Get(ctx context.Context, email string) (*model.OTPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[email]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memOTPRepo) Delete(ctx context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, email)
	return nil
}

func (r *memOTPRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, rec := range r.records {
		if rec.ExpiresAt.Before(before) {
			delete(r.records, k)
			n++
		}
	}
	return n, nil
}

// memCredentialRepo はrepository.CredentialRepositoryのインメモリ実装。
type memCredentialRepo struct {
	mu    sync.Mutex
	creds map[string]model.Credential
}

func newMemCredentialRepo() *memCredentialRepo {
	return &memCredentialRepo{creds: map[string]model.Credential{}}
}

func (r *memCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[email]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memCredentialRepo) Create(ctx context.Context, cred *model.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.creds[cred.Email]; ok {
		return &repository.StoreError{Kind: repository.ErrAlreadyExists, Resource: "credentials"}
	}
	r.creds[cred.Email] = *cred
	return nil
}

// --- モック定義 ---

// captureNotifier は最後に配信されたコードを保持する。
type captureNotifier struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{codes: map[string]string{}}
}

func (n *captureNotifier) Notify(ctx context.Context, email, code string, purpose model.OTPPurpose) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[email] = code
	return n.err
}

func (n *captureNotifier) last(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[email]
}

type mockExchanger struct {
	authCodeURLFn func(state, challenge string) string
	exchangeFn    func(ctx context.Context, code, verifier, redirectURI string) (string, error)
}

func (m *mockExchanger) AuthCodeURL(state, challenge string) string {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(state, challenge)
	}
	return "https://idp.example.com/oauth2/authorize?state=" + state + "&code_challenge=" + challenge
}

func (m *mockExchanger) RedirectURI() string {
	return "https://app.example.com/api/auth/callback"
}

func (m *mockExchanger) ExchangeCodeForTokens(ctx context.Context, code, verifier, redirectURI string) (string, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, verifier, redirectURI)
	}
	return "", nil
}

// recordingMetrics はmetrics.AuthMetricsの記録用実装。
type recordingMetrics struct {
	mu         sync.Mutex
	signIns    map[string]int
	reconciles map[string]int
	exchanges  []int
	issued     map[bool]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		signIns:    map[string]int{},
		reconciles: map[string]int{},
		issued:     map[bool]int{},
	}
}

func (m *recordingMetrics) RecordSignIn(method, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signIns[method+"/"+outcome]++
}

func (m *recordingMetrics) RecordOTPIssued(purpose string, delivered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued[delivered]++
}

func (m *recordingMetrics) RecordOTPVerified(valid bool) {}

func (m *recordingMetrics) RecordTokenExchange(statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, statusCode)
}

func (m *recordingMetrics) RecordReconcile(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciles[outcome]++
}

func (m *recordingMetrics) RecordRateLimited() {}

func (m *recordingMetrics) RecordOTPPurged(count int64) {}
