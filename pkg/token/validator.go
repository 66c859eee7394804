package token

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity は検証に成功したトークンから得られる認証済みの主体。1リクエストの間だけ存在する。
type Identity struct {
	// Subject は主体の識別子（sub）。
	Subject string
	// Issuer は発行者（iss）。
	Issuer string
	// Audience は受信者（aud）。
	Audience []string
	// ExpiresAt は有効期限（exp）。
	ExpiresAt time.Time
	// NotBefore は利用開始時刻（nbf）。無い場合はゼロ値。
	NotBefore time.Time
	// IssuedAt は発行時刻（iat）。無い場合はゼロ値。
	IssuedAt time.Time
	// ID はトークンID（jti）。
	ID string
	// Claims はトークンに含まれるすべてのクレーム。
	Claims map[string]any
}

// UserID は下流サービスへ伝播するユーザーIDを返す。
// sub が無い場合は user_id クレームを使う。
func (i *Identity) UserID() string {
	if i.Subject != "" {
		return i.Subject
	}
	if v, ok := i.Claims["user_id"].(string); ok {
		return v
	}
	return ""
}

// Claim は名前を指定してクレームを取得する。
func (i *Identity) Claim(name string) (any, bool) {
	v, ok := i.Claims[name]
	return v, ok
}

// Validate はトークンを検証し、認証済みの主体を返す。
// now 以外の時刻源は参照しない。有効期限は exp <= now で失効とみなす。
func Validate(tokenString string, trust *TrustParameters, now time.Time) (*Identity, error) {
	if tokenString == "" {
		return nil, invalid(ErrMalformedToken, "トークンが空です", nil)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods(trust.allowedMethods()),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(tokenString, claims, trust.keyFunc); err != nil {
		return nil, classifyParseError(err)
	}

	issuer, err := claims.GetIssuer()
	if err != nil {
		return nil, invalid(ErrMalformedToken, "iss クレームが不正です", err)
	}
	if issuer != trust.Issuer {
		return nil, invalid(ErrIssuerMismatch, "iss="+issuer, nil)
	}

	audience, err := claims.GetAudience()
	if err != nil {
		return nil, invalid(ErrMalformedToken, "aud クレームが不正です", err)
	}
	if !slices.Contains(audience, trust.Audience) {
		return nil, invalid(ErrAudienceMismatch, "aud="+joinAudience(audience), nil)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, invalid(ErrMalformedToken, "exp クレームが不正です", err)
	}
	if exp == nil {
		return nil, invalid(ErrExpired, "exp クレームがありません", nil)
	}
	if !now.Before(exp.Time) {
		return nil, invalid(ErrExpired, "exp="+exp.UTC().Format(time.RFC3339), nil)
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return nil, invalid(ErrMalformedToken, "nbf クレームが不正です", err)
	}
	if nbf != nil && now.Before(nbf.Time) {
		return nil, invalid(ErrNotYetValid, "nbf="+nbf.UTC().Format(time.RFC3339), nil)
	}

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, invalid(ErrMalformedToken, "iat クレームが不正です", err)
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return nil, invalid(ErrMalformedToken, "sub クレームが不正です", err)
	}
	id, _ := claims["jti"].(string)

	identity := &Identity{
		Subject:   subject,
		Issuer:    issuer,
		Audience:  audience,
		ExpiresAt: exp.Time,
		ID:        id,
		Claims:    maps.Clone(map[string]any(claims)),
	}
	if nbf != nil {
		identity.NotBefore = nbf.Time
	}
	if iat != nil {
		identity.IssuedAt = iat.Time
	}
	return identity, nil
}

// classifyParseError はgolang-jwtの解析エラーを検証失敗の理由に変換する。
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return invalid(ErrMalformedToken, "", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return invalid(ErrSignatureInvalid, "", err)
	default:
		return invalid(ErrMalformedToken, "", err)
	}
}

func joinAudience(aud []string) string {
	if len(aud) == 0 {
		return "(なし)"
	}
	return strings.Join(aud, ",")
}
