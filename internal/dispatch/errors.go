package dispatch

import (
	"errors"
	"fmt"
)

// 転送失敗の理由を表すセンチネルエラー。
var (
	// ErrDownstreamUnreachable は下流サービスに接続できない、または応答が壊れていることを表す。
	ErrDownstreamUnreachable = errors.New("下流サービスに接続できません")
	// ErrDownstreamTimeout は下流サービスが期限内に応答しなかったことを表す。
	ErrDownstreamTimeout = errors.New("下流サービスが期限内に応答しませんでした")
	// ErrClientCanceled は呼び出し元が接続を切断したことを表す。レスポンスは書き込まない。
	ErrClientCanceled = errors.New("呼び出し元がリクエストを取り消しました")
)

// Error は下流呼び出しの失敗を表す。
type Error struct {
	// Reason は上記のセンチネルエラーのいずれか。
	Reason error
	// Route はルート名。
	Route string
	// Target は転送先URL。
	Target string
	// Cause は下位の通信エラー。
	Cause error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: route=%s target=%s: %v", e.Reason, e.Route, e.Target, e.Cause)
}

// Unwrap は Reason と Cause を返す。
func (e *Error) Unwrap() []error {
	return []error{e.Reason, e.Cause}
}
