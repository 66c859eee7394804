package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent はイベントの組み立てに必要な値が欠けているか矛盾していることを表す。
var ErrInvalidEvent = errors.New("イベントが不正です")

// aggregateOf はイベントの種類が属する対象の種類を返す。
func aggregateOf(t Type) (AggregateType, bool) {
	switch t {
	case TypeRequestForwarded, TypeRequestRejected, TypeRouteNotFound, TypeDownstreamFailed:
		return AggregateTypeRequest, true
	case TypeRoutesReloaded:
		return AggregateTypeRouteTable, true
	}
	return "", false
}

// ForRequest はリクエストの終端イベントを生成する。1リクエストにつき1件だけ生成するため版は常に1。
// eventType はリクエストの終端を表す種類でなければならない。
func ForRequest(requestID string, eventType Type, data RequestData) (*Event, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: リクエストIDが空です", ErrInvalidEvent)
	}
	return build(AggregateTypeRequest, requestID, eventType, 1, data)
}

// ForRoutesReloaded はルート表の入れ替えイベントを生成する。generation は1から始まる世代番号。
func ForRoutesReloaded(generation int64, data RoutesReloadedData) (*Event, error) {
	if generation < 1 {
		return nil, fmt.Errorf("%w: 世代番号は1以上である必要があります: %d", ErrInvalidEvent, generation)
	}
	return build(AggregateTypeRouteTable, RouteTableID, TypeRoutesReloaded, generation, data)
}

// build は種類と対象の組み合わせを確かめてからペイロードをJSONに変換し、イベントを組み立てる。
func build(aggregate AggregateType, aggregateID string, eventType Type, version int64, payload any) (*Event, error) {
	if owner, ok := aggregateOf(eventType); !ok || owner != aggregate {
		return nil, fmt.Errorf("%w: %s は %s のイベントではありません", ErrInvalidEvent, eventType, aggregate)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: ペイロードをJSONにできません: %v", ErrInvalidEvent, err)
	}
	return &Event{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregate,
		EventType:     eventType,
		Data:          raw,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのペイロードを T に復元する。ペイロードが空の場合はエラー。
func DecodeData[T any](e *Event) (*T, error) {
	if e == nil || len(e.Data) == 0 {
		return nil, fmt.Errorf("%w: ペイロードがありません", ErrInvalidEvent)
	}
	out := new(T)
	if err := json.Unmarshal(e.Data, out); err != nil {
		return nil, fmt.Errorf("%s のペイロードを復元できません: %w", e.EventType, err)
	}
	return out, nil
}
