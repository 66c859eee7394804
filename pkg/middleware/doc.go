// Package middleware はゲートウェイのGinミドルウェアを提供する。
//
// 認証ゲート（Bearerトークンの検証）、リクエストID、アクセスログ、
// パニックリカバリ、CORS設定を含む。
package middleware
