package route

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Params はパスパラメータ名から値への束縛。
type Params map[string]string

// Get はパラメータの値を返す。束縛されていない場合は空文字列。
func (p Params) Get(name string) string {
	return p[name]
}

// Match はルート照合の結果。
type Match struct {
	// Rule は一致したルール。
	Rule *Rule
	// Params はパターンから抽出したパスパラメータ。
	Params Params
}

// Table は宣言順に並んだルールの列。構築後は変更されない。
type Table struct {
	rules []*Rule
}

// Build はルート定義からテーブルを構築する。
// 不備のある定義はすべて ConfigError として errors.Join でまとめて返す。
func Build(defs []Definition) (*Table, error) {
	rules := make([]*Rule, 0, len(defs))
	names := make(map[string]int, len(defs))
	var errs []error
	for i, def := range defs {
		r, err := compile(i, def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if first, dup := names[r.Name]; dup {
			errs = append(errs, &ConfigError{
				Index:  i,
				Name:   r.Name,
				Field:  "name",
				Reason: fmt.Sprintf("routes[%d] と名前が重複しています", first),
			})
			continue
		}
		names[r.Name] = i
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Table{rules: rules}, nil
}

// Match は宣言順にルールを走査し、メソッドとパスの両方に最初に一致したルールを返す。
// 一致するルールが無い場合は false を返す。
func (t *Table) Match(method, path string) (*Match, bool) {
	if t == nil {
		return nil, false
	}
	for _, r := range t.rules {
		if !r.AllowsMethod(method) {
			continue
		}
		if params, ok := r.pattern.match(path); ok {
			return &Match{Rule: r, Params: params}, true
		}
	}
	return nil, false
}

// Rules は宣言順のルール一覧のコピーを返す。
func (t *Table) Rules() []*Rule {
	if t == nil {
		return nil
	}
	rules := make([]*Rule, len(t.rules))
	copy(rules, t.rules)
	return rules
}

// Len はルール数を返す。
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

// Holder は現在のテーブルへの参照を保持する。
// 読み取り中のリクエストが部分的に更新されたテーブルを見ることはない。
type Holder struct {
	current atomic.Pointer[Table]
}

// NewHolder は初期テーブルを保持するHolderを生成する。
func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.current.Store(t)
	return h
}

// Load は現在のテーブルを返す。
func (h *Holder) Load() *Table {
	return h.current.Load()
}

// Store はテーブル全体を差し替える。
func (h *Holder) Store(t *Table) {
	h.current.Store(t)
}
