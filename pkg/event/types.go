// Package event はゲートウェイが記録するイベントの型を定義する。
//
// リクエストが終端状態に達するたびに1件のイベントを生成し、
// イベントログ（internal/eventstore）に追記する。イベントは不変で、更新も削除もしない。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象の種類を表す。
type AggregateType string

const (
	// AggregateTypeRequest は1件の受信リクエストを表す。AggregateIDはリクエストID。
	AggregateTypeRequest AggregateType = "Request"
	// AggregateTypeRouteTable はルート表を表す。AggregateIDは常に RouteTableID。
	AggregateTypeRouteTable AggregateType = "RouteTable"
)

// RouteTableID はルート表イベントのAggregateID。
const RouteTableID = "routes"

// Type はイベントの種類を表す。
type Type string

const (
	// TypeRequestForwarded はリクエストが下流へ転送され、レスポンスが中継されたことを表す。
	TypeRequestForwarded Type = "RequestForwarded"
	// TypeRequestRejected は認証に失敗してリクエストが拒否されたことを表す。
	TypeRequestRejected Type = "RequestRejected"
	// TypeRouteNotFound は一致するルートが無かったことを表す。
	TypeRouteNotFound Type = "RouteNotFound"
	// TypeDownstreamFailed は下流呼び出しが失敗したことを表す。
	TypeDownstreamFailed Type = "DownstreamFailed"
	// TypeRoutesReloaded はルート表が入れ替えられたことを表す。
	TypeRoutesReloaded Type = "RoutesReloaded"
)

// Event はイベントログに記録する不変のイベントレコード。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象の識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象の種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version は対象内でのイベントの順序番号。リクエストは常に1、ルート表は世代番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// RequestData はリクエストの終端イベントのデータ。
type RequestData struct {
	// Route は一致したルート名。一致しなかった場合は空。
	Route string `json:"route,omitempty"`
	// Method はHTTPメソッド。
	Method string `json:"method"`
	// Path は受信したパス。
	Path string `json:"path"`
	// State は到達した終端状態。
	State string `json:"state"`
	// Status は呼び出し元へ返したステータスコード。
	Status int `json:"status"`
	// Reason は失敗の内部的な理由コード。呼び出し元には返さない。
	Reason string `json:"reason,omitempty"`
	// Subject は認証済みの主体。
	Subject string `json:"subject,omitempty"`
	// Target は転送先URL。
	Target string `json:"target,omitempty"`
	// LatencyMS は処理にかかった時間（ミリ秒）。
	LatencyMS int64 `json:"latency_ms"`
}

// RoutesReloadedData はRoutesReloadedイベントのデータ。
type RoutesReloadedData struct {
	// Routes は新しいルート表のルート数。
	Routes int `json:"routes"`
	// Names は宣言順のルート名。
	Names []string `json:"names"`
}
