// Package pkce は認可コードフローのPKCE（RFC 7636）を扱う。
//
// 検証子の生成、S256チャレンジの導出、ブラウザ側での検証子の一時保存、
// およびトークンエンドポイントでの認可コード交換を提供する。
package pkce

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/oauth2"
)

// ChallengeMethod はサポートするチャレンジ方式。
const ChallengeMethod = "S256"

// GenerateVerifier は32バイトの暗号論的乱数をパディングなしbase64urlで返す。
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// GenerateChallenge は検証子のSHA-256ダイジェストをパディングなしbase64urlで返す。
func GenerateChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState はCSRF対策と検証子の紐付けに使うstateを生成する。
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
