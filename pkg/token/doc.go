// Package token はJWTベアラートークンの検証と発行を提供する。
//
// Validate はトークン文字列・信頼パラメータ・現在時刻だけから結果が決まる
// 純粋な関数であり、外部状態の参照やネットワーク通信を行わない。
// 検証は解析、署名、発行者、受信者、有効期限、利用開始時刻の順に行い、
// 最初に失敗した検査の理由を ValidationError として返す。
package token
