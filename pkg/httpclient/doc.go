// Package httpclient はゲートウェイから下流サービスへリクエストを送るHTTPクライアントを提供する。
//
// リダイレクトは追わずにそのまま呼び出し元へ返し、
// 全体のタイムアウトは持たずにリクエストのコンテキストの期限に従う。
package httpclient
