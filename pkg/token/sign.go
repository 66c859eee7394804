package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sign はクレームを共有鍵でHS256署名したトークン文字列を返す。
func Sign(claims jwt.Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSigningSecret
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// GenerateJWT は信頼パラメータの発行者・受信者を設定したトークンを発行する。
// 開発用トークンの発行エンドポイントから呼び出す。extra は追加のクレーム。
func GenerateJWT(trust *TrustParameters, subject string, ttl time.Duration, now time.Time, extra map[string]any) (string, error) {
	if !trust.Symmetric() {
		return "", ErrNoSigningSecret
	}

	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims["iss"] = trust.Issuer
	claims["aud"] = trust.Audience
	claims["sub"] = subject
	claims["iat"] = jwt.NewNumericDate(now)
	claims["nbf"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(ttl))
	claims["jti"] = uuid.New().String()

	return Sign(claims, trust.Secret)
}
