package eventstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/gateway/pkg/event"
	"github.com/nao1215/gateway/pkg/logging"
	"github.com/nao1215/gateway/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MaxLimit は1回の取得で返すイベント数の上限。
const MaxLimit = 1000

// ErrClosed はクローズ済みのストアやライターを使用したことを表す。
var ErrClosed = errors.New("イベントストアはクローズ済みです")

// Store はSQLiteに永続化するイベントストア。
type Store struct {
	db *sql.DB
}

// Open はSQLiteデータベースを開き、マイグレーションを適用する。
// path に ":memory:" を指定するとインメモリデータベースになる。
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("イベントログDBのオープンに失敗: %w", err)
	}
	// 書き込みは Writer の1ゴルーチンだけが行うため、接続は1本で足りる。
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("イベントログDBのマイグレーションに失敗: %w", err)
	}
	version, err := migration.CurrentVersion(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Global().Info("イベントログDBを開きました",
		zap.String("path", path),
		zap.Int("schema_version", version),
	)
	return &Store{db: db}, nil
}

// dsn はmodernc.org/sqlite用の接続文字列を組み立てる。
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Close はデータベースを閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Append はイベントを追記する。
func (s *Store) Append(ctx context.Context, ev *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.AggregateID,
		string(ev.AggregateType),
		string(ev.EventType),
		string(ev.Data),
		ev.Version,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("イベントの追記に失敗: %w", err)
	}
	return nil
}

// Recent は新しい順に最大 limit 件のイベントを返す。
func (s *Store) Recent(ctx context.Context, limit int) ([]*event.Event, error) {
	return s.query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		FROM events ORDER BY seq DESC LIMIT ?`, clampLimit(limit))
}

// ByAggregateID は対象の種類とIDに一致するイベントを追記順に返す。
func (s *Store) ByAggregateID(ctx context.Context, aggregateType event.AggregateType, aggregateID string) ([]*event.Event, error) {
	return s.query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		FROM events WHERE aggregate_type = ? AND aggregate_id = ? ORDER BY seq`,
		string(aggregateType), aggregateID)
}

// ByType はイベントタイプに一致するイベントを新しい順に最大 limit 件返す。
func (s *Store) ByType(ctx context.Context, eventType event.Type, limit int) ([]*event.Event, error) {
	return s.query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		FROM events WHERE event_type = ? ORDER BY seq DESC LIMIT ?`,
		string(eventType), clampLimit(limit))
}

// query はイベントを取得する共通処理。
func (s *Store) query(ctx context.Context, query string, args ...any) ([]*event.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*event.Event
	for rows.Next() {
		var (
			ev            event.Event
			aggregateType string
			eventType     string
			data          string
			createdAt     string
		)
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &aggregateType, &eventType, &data, &ev.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("イベントの読み取りに失敗: %w", err)
		}
		ev.AggregateType = event.AggregateType(aggregateType)
		ev.EventType = event.Type(eventType)
		ev.Data = []byte(data)
		if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("作成日時の解析に失敗: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	return events, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
