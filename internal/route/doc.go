// Package route はゲートウェイのルーティングテーブルを提供する。
//
// 設定から宣言順に構築されるルールの列を保持し、受信リクエストの
// メソッドとパスに最初に一致したルールを返す。テーブルは構築後に
// 変更されることはなく、再読み込み時はテーブル全体を作り直して
// Holderで参照ごと差し替える。
package route
