package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// symmetricMethods は共有鍵で許可する署名アルゴリズム。
var symmetricMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// asymmetricMethods はJWK鍵で許可する署名アルゴリズム。
var asymmetricMethods = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodRS384.Alg(),
	jwt.SigningMethodRS512.Alg(),
	jwt.SigningMethodPS256.Alg(),
	jwt.SigningMethodPS384.Alg(),
	jwt.SigningMethodPS512.Alg(),
	jwt.SigningMethodES256.Alg(),
	jwt.SigningMethodES384.Alg(),
	jwt.SigningMethodES512.Alg(),
	jwt.SigningMethodEdDSA.Alg(),
}

// TrustParameters はトークン検証の基準となる値。起動時に一度だけ構築し、以後は変更しない。
// 時刻のずれは許容せず、有効期限の検査は常に行う。
type TrustParameters struct {
	// Issuer は期待する発行者（iss）。
	Issuer string
	// Audience は期待する受信者（aud）。
	Audience string
	// Secret はHMAC署名の共有鍵。KeySet と排他。
	Secret []byte
	// KeySet は非対称署名の公開鍵セット。kid ヘッダーで鍵を選択する。
	KeySet jwk.Set
}

// MissingParameterError は必須の信頼パラメータが欠けていることを表す。
type MissingParameterError struct {
	// Fields は欠けているパラメータ名。
	Fields []string
}

// Error implements error.
func (e *MissingParameterError) Error() string {
	return "信頼パラメータが不足しています: " + strings.Join(e.Fields, ", ")
}

// NewSymmetric は共有鍵による信頼パラメータを生成する。
func NewSymmetric(secret, issuer, audience string) (*TrustParameters, error) {
	p := &TrustParameters{
		Issuer:   issuer,
		Audience: audience,
		Secret:   []byte(secret),
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewWithKeySet はJWK鍵セットによる信頼パラメータを生成する。
func NewWithKeySet(set jwk.Set, issuer, audience string) (*TrustParameters, error) {
	p := &TrustParameters{
		Issuer:   issuer,
		Audience: audience,
		KeySet:   set,
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	return p, nil
}

// Check は必須の値がすべて揃っているかを検査する。
func (p *TrustParameters) Check() error {
	var missing []string
	if len(p.Secret) == 0 && (p.KeySet == nil || p.KeySet.Len() == 0) {
		missing = append(missing, "key")
	}
	if p.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if p.Audience == "" {
		missing = append(missing, "audience")
	}
	if len(missing) > 0 {
		return &MissingParameterError{Fields: missing}
	}
	if len(p.Secret) > 0 && p.KeySet != nil {
		return errors.New("共有鍵とJWK鍵セットは同時に指定できません")
	}
	return nil
}

// Symmetric は共有鍵による検証かどうかを返す。
func (p *TrustParameters) Symmetric() bool {
	return len(p.Secret) > 0
}

// allowedMethods は信頼する鍵の種類に応じて許可するアルゴリズムを返す。
func (p *TrustParameters) allowedMethods() []string {
	if p.Symmetric() {
		return symmetricMethods
	}
	return asymmetricMethods
}

// keyFunc は署名検証に使う鍵を返す。
func (p *TrustParameters) keyFunc(t *jwt.Token) (any, error) {
	if p.Symmetric() {
		return p.Secret, nil
	}
	if p.KeySet == nil {
		return nil, errors.New("検証用の鍵が設定されていません")
	}

	kid, _ := t.Header["kid"].(string)
	key, err := p.lookupKey(kid)
	if err != nil {
		return nil, err
	}

	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("公開鍵の取り出しに失敗: %w", err)
	}
	var raw any
	if err := pub.Raw(&raw); err != nil {
		return nil, fmt.Errorf("鍵の変換に失敗: %w", err)
	}
	return raw, nil
}

// lookupKey は kid に対応する鍵を返す。kid が無い場合は鍵が1つだけのときに限りそれを使う。
func (p *TrustParameters) lookupKey(kid string) (jwk.Key, error) {
	if kid != "" {
		key, ok := p.KeySet.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("kid %q に対応する鍵がありません", kid)
		}
		return key, nil
	}
	if p.KeySet.Len() != 1 {
		return nil, errors.New("kid ヘッダーが無く鍵を特定できません")
	}
	key, ok := p.KeySet.Key(0)
	if !ok {
		return nil, errors.New("鍵セットが空です")
	}
	return key, nil
}

// LoadKeySet はJWK鍵セットのファイルを読み込む。起動時に呼び出す。
func LoadKeySet(path string) (jwk.Set, error) {
	set, err := jwk.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("JWK鍵セットの読み込みに失敗: %w", err)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("JWK鍵セットに鍵がありません: %s", path)
	}
	return set, nil
}
