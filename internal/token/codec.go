// Package token はIdPが発行したIDトークンを正規化されたユーザー表現へ変換する。
//
// 署名の検証はここでは行わない。トークンはIdPのトークンエンドポイントか
// ローカルIdPから直接受け取ったものだけを渡すこと。
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/manas332/profile-official-sub000/internal/model"
)

// ErrInvalidToken はトークンのペイロード部が欠落しているか解析できないことを示す。
var ErrInvalidToken = errors.New("token: invalid identity token")

// googleProvider はフェデレーションID一覧でGoogleを示す値（大文字小文字を区別する）。
const googleProvider = "Google"

// Identity はフェデレーションで紐付いた外部IDの1件。
type Identity struct {
	UserID       string `json:"userId,omitempty"`
	ProviderName string `json:"providerName,omitempty"`
	ProviderType string `json:"providerType,omitempty"`
}

// Claims はIDトークンから読み取るクレーム。
type Claims struct {
	Email      string     `json:"email,omitempty"`
	Name       string     `json:"name,omitempty"`
	Username   string     `json:"cognito:username,omitempty"`
	Picture    string     `json:"picture,omitempty"`
	Identities []Identity `json:"identities,omitempty"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser()

// Decode はトークンを"."で分割し、中央のセグメントだけをクレームとして解析する。
// ヘッダーと署名は読まないので、algが未知でもペイロードが正しければ成功する。
// 失敗時はErrInvalidTokenをラップして返し、パニックしない。
func Decode(raw string) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 || parts[1] == "" {
		return nil, ErrInvalidToken
	}

	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims := &Claims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// IsGoogle はフェデレーションID一覧にGoogleが含まれるかを返す。
func (c *Claims) IsGoogle() bool {
	for _, id := range c.Identities {
		if id.ProviderName == googleProvider || id.ProviderType == googleProvider {
			return true
		}
	}
	return false
}

// ToUser はクレームをユーザーに変換する。
// UpdatedAtは常にnowになる。これは永続化された値ではなく鮮度を示す。
func ToUser(c *Claims, now time.Time) model.User {
	name := c.Name
	if name == "" {
		name = c.Username
	}

	provider := model.ProviderEmail
	if c.IsGoogle() {
		provider = model.ProviderGoogle
	}

	createdAt := now
	if c.IssuedAt != nil {
		createdAt = c.IssuedAt.Time
	}

	return model.User{
		ID:        c.Subject,
		Email:     c.Email,
		Name:      name,
		PhotoURL:  c.Picture,
		Provider:  provider,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
}

// DecodeUser はDecodeとToUserを続けて行う。
func DecodeUser(raw string, now time.Time) (model.User, error) {
	c, err := Decode(raw)
	if err != nil {
		return model.User{}, err
	}
	if c.Subject == "" {
		return model.User{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return ToUser(c, now), nil
}
