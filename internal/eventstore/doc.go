// Package eventstore はゲートウェイのイベントログを提供する。
//
// リクエストの終端状態とルート表の入れ替えをイベントとしてSQLiteに追記する。
// イベントは不変（immutable）で、追記のみ（append-only）で運用される。
// リクエスト処理を止めないよう、書き込みは Writer が専用のゴルーチンで行う。
//
// 主な機能:
//   - イベントの追記（Append）
//   - 新しい順のイベント取得（Recent）
//   - AggregateIDによるイベント取得（ByAggregateID）
//   - イベントタイプによるイベント取得（ByType）
package eventstore
