package token

import (
	"errors"
	"fmt"
)

// 検証失敗の理由を表すセンチネルエラー。
var (
	// ErrMalformedToken はトークンを解析できないことを表す。
	ErrMalformedToken = errors.New("トークンの形式が不正です")
	// ErrSignatureInvalid は署名が信頼する鍵で検証できないことを表す。
	ErrSignatureInvalid = errors.New("トークンの署名が不正です")
	// ErrIssuerMismatch は発行者が一致しないことを表す。
	ErrIssuerMismatch = errors.New("トークンの発行者が一致しません")
	// ErrAudienceMismatch は受信者が一致しないことを表す。
	ErrAudienceMismatch = errors.New("トークンの受信者が一致しません")
	// ErrExpired はトークンの有効期限が切れていることを表す。
	ErrExpired = errors.New("トークンの有効期限が切れています")
	// ErrNotYetValid はトークンの利用開始時刻に達していないことを表す。
	ErrNotYetValid = errors.New("トークンはまだ有効ではありません")
)

// ErrNoSigningSecret は共有鍵が無いためトークンを発行できないことを表す。
var ErrNoSigningSecret = errors.New("署名用の共有鍵が設定されていません")

// ValidationError はトークン検証の失敗を表す。
// Reason は上記のセンチネルエラーのいずれかで、errors.Is で判定できる。
type ValidationError struct {
	// Reason は失敗した検査を表すセンチネルエラー。
	Reason error
	// Detail は内部診断用の詳細。
	Detail string
	// Cause は下位ライブラリが返したエラー。
	Cause error
}

// Error implements error.
func (e *ValidationError) Error() string {
	msg := e.Reason.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap は Reason と Cause を返す。
func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Cause}
}

func invalid(reason error, detail string, cause error) *ValidationError {
	return &ValidationError{Reason: reason, Detail: detail, Cause: cause}
}

// ReasonCode は検証エラーをメトリクスやイベントログ用の短いコードに変換する。
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNotYetValid):
		return "not_yet_valid"
	default:
		return "unknown"
	}
}
