package route

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrConfiguration はルート設定が不正であることを表す。
// 起動時にのみ発生し、プロセスを起動してはならない。
var ErrConfiguration = errors.New("ルート設定が不正です")

// ErrNoMatchingRoute は受信リクエストに一致するルートが無いことを表す。
var ErrNoMatchingRoute = errors.New("一致するルートがありません")

const (
	// SchemeHTTP は下流サービスへのHTTP接続を表す。
	SchemeHTTP = "http"
	// SchemeHTTPS は下流サービスへのHTTPS接続を表す。
	SchemeHTTPS = "https"
)

// ConfigError はルート定義の不備を表す。
type ConfigError struct {
	// Index は設定ファイル上のルートの位置（0始まり）。
	Index int
	// Name はルート名。
	Name string
	// Field は不備のあるフィールド名。
	Field string
	// Reason は不備の内容。
	Reason string
}

// Error implements error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("ルート設定エラー: routes[%d] (%s): %s: %s", e.Index, e.Name, e.Field, e.Reason)
}

// Unwrap は ErrConfiguration を返す。
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// Definition は設定から読み込んだルート定義。Build でRuleにコンパイルされる。
type Definition struct {
	// Name はルート名。空の場合は route-<index> になる。
	Name string
	// UpstreamPathPattern は受信パスに照合するパターン。
	UpstreamPathPattern string
	// UpstreamMethods は許可するHTTPメソッド。空、"*"、"ANY" は全メソッドを許可する。
	UpstreamMethods []string
	// DownstreamScheme は http または https。空の場合は http。
	DownstreamScheme string
	// DownstreamHost は転送先ホスト。
	DownstreamHost string
	// DownstreamPort は転送先ポート。0の場合はスキームの既定ポート。
	DownstreamPort int
	// DownstreamPathTemplate は転送先パスのテンプレート。空の場合は上流パターンを流用する。
	DownstreamPathTemplate string
	// RequiresAuthentication がtrueの場合、転送前にJWT認証を必須とする。
	RequiresAuthentication bool
	// Timeout は下流呼び出しの期限。0の場合はゲートウェイ全体の既定値を使う。
	Timeout time.Duration
}

// Rule はコンパイル済みのルート。構築後は読み取り専用。
type Rule struct {
	// Name はルート名。
	Name string
	// Index は宣言順の位置。
	Index int
	// UpstreamPathPattern は受信パスに照合するパターン。
	UpstreamPathPattern string
	// DownstreamScheme は転送先スキーム。
	DownstreamScheme string
	// DownstreamHost は転送先ホスト。
	DownstreamHost string
	// DownstreamPort は転送先ポート。
	DownstreamPort int
	// DownstreamPathTemplate は転送先パスのテンプレート。
	DownstreamPathTemplate string
	// RequiresAuthentication は認証必須フラグ。
	RequiresAuthentication bool
	// Timeout はルート固有の下流呼び出し期限。
	Timeout time.Duration

	methods  map[string]struct{}
	pattern  *pattern
	template *pathTemplate
}

// AllowsMethod はメソッドがこのルートで許可されているかを返す。大文字小文字は区別しない。
func (r *Rule) AllowsMethod(method string) bool {
	if r.methods == nil {
		return true
	}
	_, ok := r.methods[strings.ToUpper(method)]
	return ok
}

// Methods は許可メソッドをソートして返す。全メソッド許可の場合はnil。
func (r *Rule) Methods() []string {
	if r.methods == nil {
		return nil
	}
	methods := make([]string, 0, len(r.methods))
	for m := range r.methods {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Address は転送先の host:port を返す。
func (r *Rule) Address() string {
	return net.JoinHostPort(r.DownstreamHost, strconv.Itoa(r.DownstreamPort))
}

// DownstreamPath はパラメータを埋め込んだ転送先パスを返す。
func (r *Rule) DownstreamPath(params Params) string {
	return r.template.render(params)
}

// DownstreamURL は転送先URLを組み立てる。rawQueryは受信リクエストのクエリ文字列をそのまま渡す。
func (r *Rule) DownstreamURL(params Params, rawQuery string) string {
	var b strings.Builder
	b.WriteString(r.DownstreamScheme)
	b.WriteString("://")
	b.WriteString(r.Address())
	b.WriteString(r.DownstreamPath(params))
	if rawQuery != "" {
		b.WriteByte('?')
		b.WriteString(rawQuery)
	}
	return b.String()
}

// compile は1つのルート定義を検証してRuleに変換する。
func compile(index int, def Definition) (*Rule, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		name = fmt.Sprintf("route-%d", index)
	}
	fail := func(field, format string, args ...any) error {
		return &ConfigError{Index: index, Name: name, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	if def.UpstreamPathPattern == "" {
		return nil, fail("upstreamPathPattern", "必須項目です")
	}
	p, err := parsePattern(def.UpstreamPathPattern)
	if err != nil {
		return nil, fail("upstreamPathPattern", "%v", err)
	}

	host := strings.TrimSpace(def.DownstreamHost)
	if host == "" {
		return nil, fail("downstreamHost", "必須項目です")
	}
	if strings.ContainsAny(host, "/?#@") {
		return nil, fail("downstreamHost", "ホスト名にスキームやパスを含めることはできません: %q", host)
	}

	scheme := strings.ToLower(strings.TrimSpace(def.DownstreamScheme))
	switch scheme {
	case "":
		scheme = SchemeHTTP
	case SchemeHTTP, SchemeHTTPS:
	default:
		return nil, fail("downstreamScheme", "http または https のみ指定できます: %q", def.DownstreamScheme)
	}

	port := def.DownstreamPort
	switch {
	case port == 0 && scheme == SchemeHTTPS:
		port = 443
	case port == 0:
		port = 80
	case port < 0 || port > 65535:
		return nil, fail("downstreamPort", "ポート番号が範囲外です: %d", port)
	}

	rawTemplate := def.DownstreamPathTemplate
	if rawTemplate == "" {
		rawTemplate = def.UpstreamPathPattern
	}
	tmpl, err := parseTemplate(rawTemplate)
	if err != nil {
		return nil, fail("downstreamPathTemplate", "%v", err)
	}
	bound := p.params()
	for _, part := range tmpl.parts {
		if part.param == "" {
			continue
		}
		if _, ok := bound[part.param]; !ok {
			return nil, fail("downstreamPathTemplate", "パラメータ {%s} は上流パターンで定義されていません", part.param)
		}
	}

	methods, err := compileMethods(def.UpstreamMethods)
	if err != nil {
		return nil, fail("upstreamMethods", "%v", err)
	}

	if def.Timeout < 0 {
		return nil, fail("timeout", "負の値は指定できません: %s", def.Timeout)
	}

	return &Rule{
		Name:                   name,
		Index:                  index,
		UpstreamPathPattern:    def.UpstreamPathPattern,
		DownstreamScheme:       scheme,
		DownstreamHost:         host,
		DownstreamPort:         port,
		DownstreamPathTemplate: rawTemplate,
		RequiresAuthentication: def.RequiresAuthentication,
		Timeout:                def.Timeout,
		methods:                methods,
		pattern:                p,
		template:               tmpl,
	}, nil
}

// compileMethods はメソッド一覧を大文字の集合に変換する。全メソッド許可の場合はnilを返す。
func compileMethods(methods []string) (map[string]struct{}, error) {
	if len(methods) == 0 {
		return nil, nil
	}
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		switch m {
		case "":
			return nil, fmt.Errorf("空のメソッドは指定できません")
		case "*", "ANY":
			return nil, nil
		}
		if strings.ContainsAny(m, " \t/") {
			return nil, fmt.Errorf("メソッド %q が不正です", m)
		}
		set[m] = struct{}{}
	}
	return set, nil
}
