// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
// ゲートウェイ自身のエンドポイント以外のリクエストはすべてパイプラインを通り、
// ルート表の照合、JWT認証、下流サービスへの転送の順に処理される。
// いずれかの段階で失敗した場合はその場でエラーレスポンスを返し、転送は行わない。
package gateway
