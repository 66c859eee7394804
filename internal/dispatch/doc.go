// Package dispatch はマッチしたルートに従ってリクエストを下流サービスへ転送する。
//
// 転送先URLの組み立て、ヘッダーの整理（ホップバイホップヘッダーの除去、
// X-Forwarded-* と X-User-ID の付与）、期限の適用、レスポンスの中継を行う。
// 再試行は行わない。
package dispatch
