package route

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

// ordersDefinition はテスト用の注文サービスのルート定義を返す。
func ordersDefinition() Definition {
	return Definition{
		Name:                   "orders",
		UpstreamPathPattern:    "/orders/{id}",
		UpstreamMethods:        []string{http.MethodGet},
		DownstreamHost:         "svc-orders",
		DownstreamPort:         8080,
		RequiresAuthentication: true,
	}
}

// mustBuild はテーブルを構築し、失敗した場合はテストを中断する。
func mustBuild(t *testing.T, defs ...Definition) *Table {
	t.Helper()

	table, err := Build(defs)
	if err != nil {
		t.Fatalf("Build()でエラーが発生: %v", err)
	}
	return table
}

// TestBuild はルート定義からのテーブル構築を検証する。
func TestBuild(t *testing.T) {
	t.Parallel()

	t.Run("既定値が補完されること", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t,
			Definition{UpstreamPathPattern: "/a", DownstreamHost: "svc-a"},
			Definition{UpstreamPathPattern: "/b", DownstreamHost: "svc-b", DownstreamScheme: "HTTPS"},
		)

		rules := table.Rules()
		if len(rules) != 2 {
			t.Fatalf("ルール数 = %d, want 2", len(rules))
		}
		if rules[0].Name != "route-0" {
			t.Errorf("Name = %q, want %q", rules[0].Name, "route-0")
		}
		if rules[0].DownstreamScheme != SchemeHTTP || rules[0].DownstreamPort != 80 {
			t.Errorf("scheme/port = %s/%d, want http/80", rules[0].DownstreamScheme, rules[0].DownstreamPort)
		}
		if rules[1].DownstreamScheme != SchemeHTTPS || rules[1].DownstreamPort != 443 {
			t.Errorf("scheme/port = %s/%d, want https/443", rules[1].DownstreamScheme, rules[1].DownstreamPort)
		}
		if rules[0].DownstreamPathTemplate != "/a" {
			t.Errorf("DownstreamPathTemplate = %q, want %q", rules[0].DownstreamPathTemplate, "/a")
		}
		if rules[0].Methods() != nil {
			t.Errorf("Methods() = %v, want nil", rules[0].Methods())
		}
	})

	t.Run("宣言順が保持されること", func(t *testing.T) {
		t.Parallel()

		var defs []Definition
		for i := range 10 {
			defs = append(defs, Definition{
				Name:                fmt.Sprintf("r%d", i),
				UpstreamPathPattern: fmt.Sprintf("/p%d", i),
				DownstreamHost:      "svc",
			})
		}
		table := mustBuild(t, defs...)

		for i, r := range table.Rules() {
			if r.Index != i || r.Name != fmt.Sprintf("r%d", i) {
				t.Errorf("rules[%d] = (%d, %q)", i, r.Index, r.Name)
			}
		}
	})

	t.Run("空の定義でも構築できること", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t)
		if table.Len() != 0 {
			t.Errorf("Len() = %d, want 0", table.Len())
		}
		if _, ok := table.Match(http.MethodGet, "/"); ok {
			t.Error("空のテーブルで一致するべきではない")
		}
	})

	invalid := []struct {
		name  string
		def   Definition
		field string
	}{
		{"パターンが無い", Definition{DownstreamHost: "svc"}, "upstreamPathPattern"},
		{"ホストが無い", Definition{UpstreamPathPattern: "/a"}, "downstreamHost"},
		{"スキームが不正", Definition{UpstreamPathPattern: "/a", DownstreamHost: "svc", DownstreamScheme: "ftp"}, "downstreamScheme"},
		{"パターンが/で始まらない", Definition{UpstreamPathPattern: "a", DownstreamHost: "svc"}, "upstreamPathPattern"},
		{"空のセグメント", Definition{UpstreamPathPattern: "/a//b", DownstreamHost: "svc"}, "upstreamPathPattern"},
		{"パラメータ名の重複", Definition{UpstreamPathPattern: "/{id}/{id}", DownstreamHost: "svc"}, "upstreamPathPattern"},
		{"ワイルドカードが末尾以外", Definition{UpstreamPathPattern: "/{*rest}/a", DownstreamHost: "svc"}, "upstreamPathPattern"},
		{"不完全な波括弧", Definition{UpstreamPathPattern: "/a{id", DownstreamHost: "svc"}, "upstreamPathPattern"},
		{"ポートが範囲外", Definition{UpstreamPathPattern: "/a", DownstreamHost: "svc", DownstreamPort: 70000}, "downstreamPort"},
		{"ホストにスキームを含む", Definition{UpstreamPathPattern: "/a", DownstreamHost: "http://svc"}, "downstreamHost"},
		{"未定義パラメータを参照", Definition{UpstreamPathPattern: "/a/{id}", DownstreamHost: "svc", DownstreamPathTemplate: "/b/{name}"}, "downstreamPathTemplate"},
		{"空のメソッド", Definition{UpstreamPathPattern: "/a", DownstreamHost: "svc", UpstreamMethods: []string{"GET", ""}}, "upstreamMethods"},
		{"負のタイムアウト", Definition{UpstreamPathPattern: "/a", DownstreamHost: "svc", Timeout: -time.Second}, "timeout"},
	}
	for _, tt := range invalid {
		t.Run(tt.name+"場合ConfigurationErrorになること", func(t *testing.T) {
			t.Parallel()

			_, err := Build([]Definition{tt.def})
			if err == nil {
				t.Fatal("Build()がエラーを返すべき")
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("errors.Is(err, ErrConfiguration) = false: %v", err)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("ConfigErrorではない: %T", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}

	t.Run("複数の不備がまとめて報告されること", func(t *testing.T) {
		t.Parallel()

		_, err := Build([]Definition{
			{UpstreamPathPattern: "/ok", DownstreamHost: "svc"},
			{DownstreamHost: "svc"},
			{UpstreamPathPattern: "/x"},
		})
		if err == nil {
			t.Fatal("Build()がエラーを返すべき")
		}
		joined, ok := err.(interface{ Unwrap() []error })
		if !ok {
			t.Fatalf("errors.Joinの結果ではない: %T", err)
		}
		if got := len(joined.Unwrap()); got != 2 {
			t.Errorf("エラー数 = %d, want 2", got)
		}
	})

	t.Run("ルート名の重複がエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := Build([]Definition{
			{Name: "dup", UpstreamPathPattern: "/a", DownstreamHost: "svc"},
			{Name: "dup", UpstreamPathPattern: "/b", DownstreamHost: "svc"},
		})
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("ConfigErrorではない: %v", err)
		}
		if cfgErr.Field != "name" || cfgErr.Index != 1 {
			t.Errorf("ConfigError = %+v", cfgErr)
		}
	})
}

// TestTableMatch はルート照合を検証する。
func TestTableMatch(t *testing.T) {
	t.Parallel()

	t.Run("パラメータ付きパターンに一致しパラメータが抽出されること", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t, ordersDefinition())

		m, ok := table.Match(http.MethodGet, "/orders/42")
		if !ok {
			t.Fatal("一致するべき")
		}
		if m.Rule.Name != "orders" {
			t.Errorf("Rule.Name = %q, want %q", m.Rule.Name, "orders")
		}
		if got := m.Params.Get("id"); got != "42" {
			t.Errorf("id = %q, want %q", got, "42")
		}
	})

	t.Run("パラメータは空のセグメントに一致しないこと", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t, Definition{UpstreamPathPattern: "/orders/{id}/items", DownstreamHost: "svc"})

		if _, ok := table.Match(http.MethodGet, "/orders//items"); ok {
			t.Error("空のセグメントに一致するべきではない")
		}
		if _, ok := table.Match(http.MethodGet, "/orders/1/2/items"); ok {
			t.Error("パラメータは複数セグメントに一致するべきではない")
		}
	})

	t.Run("メソッドは大文字小文字を区別しないこと", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t, Definition{
			UpstreamPathPattern: "/a",
			UpstreamMethods:     []string{"get", "Post"},
			DownstreamHost:      "svc",
		})

		for _, method := range []string{"GET", "get", "POST", "post"} {
			if _, ok := table.Match(method, "/a"); !ok {
				t.Errorf("%s が一致するべき", method)
			}
		}
		if _, ok := table.Match(http.MethodDelete, "/a"); ok {
			t.Error("DELETEは一致するべきではない")
		}
	})

	t.Run("パスは大文字小文字を区別すること", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t, ordersDefinition())

		if _, ok := table.Match(http.MethodGet, "/Orders/42"); ok {
			t.Error("/Orders/42 は一致するべきではない")
		}
	})

	t.Run("ANYと*は全メソッドを許可すること", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t,
			Definition{UpstreamPathPattern: "/any", UpstreamMethods: []string{"ANY"}, DownstreamHost: "svc"},
			Definition{UpstreamPathPattern: "/star", UpstreamMethods: []string{"*"}, DownstreamHost: "svc"},
		)

		for _, path := range []string{"/any", "/star"} {
			if _, ok := table.Match("PATCH", path); !ok {
				t.Errorf("PATCH %s が一致するべき", path)
			}
		}
	})

	t.Run("末尾ワイルドカードが残りのパス全体に一致すること", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t, Definition{UpstreamPathPattern: "/files/{*path}", DownstreamHost: "svc"})

		tests := map[string]string{
			"/files/a":         "a",
			"/files/a/b/c.txt": "a/b/c.txt",
			"/files":           "",
			"/files/":          "",
		}
		for path, want := range tests {
			m, ok := table.Match(http.MethodGet, path)
			if !ok {
				t.Errorf("%s が一致するべき", path)
				continue
			}
			if got := m.Params.Get("path"); got != want {
				t.Errorf("%s: path = %q, want %q", path, got, want)
			}
		}
		if _, ok := table.Match(http.MethodGet, "/filesystem"); ok {
			t.Error("/filesystem は一致するべきではない")
		}
	})

	t.Run("末尾のスラッシュは無視されること", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t, ordersDefinition())

		if _, ok := table.Match(http.MethodGet, "/orders/42/"); !ok {
			t.Error("/orders/42/ が一致するべき")
		}
	})

	t.Run("重複するパターンでは先に宣言されたルールが優先されること", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t,
			Definition{Name: "param", UpstreamPathPattern: "/users/{id}", DownstreamHost: "svc-a"},
			Definition{Name: "literal", UpstreamPathPattern: "/users/me", DownstreamHost: "svc-b"},
			Definition{Name: "wildcard", UpstreamPathPattern: "/{*all}", DownstreamHost: "svc-c"},
		)

		m, ok := table.Match(http.MethodGet, "/users/me")
		if !ok {
			t.Fatal("一致するべき")
		}
		if m.Rule.Name != "param" {
			t.Errorf("Rule.Name = %q, want %q", m.Rule.Name, "param")
		}

		m, ok = table.Match(http.MethodGet, "/other/path")
		if !ok {
			t.Fatal("一致するべき")
		}
		if m.Rule.Name != "wildcard" {
			t.Errorf("Rule.Name = %q, want %q", m.Rule.Name, "wildcard")
		}
	})

	t.Run("メソッドが一致しないルールは飛ばされること", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t,
			Definition{Name: "write", UpstreamPathPattern: "/items", UpstreamMethods: []string{"POST"}, DownstreamHost: "svc-a"},
			Definition{Name: "read", UpstreamPathPattern: "/items", UpstreamMethods: []string{"GET"}, DownstreamHost: "svc-b"},
		)

		m, ok := table.Match(http.MethodGet, "/items")
		if !ok || m.Rule.Name != "read" {
			t.Errorf("Match() = %v, %v; want read", m, ok)
		}
	})

	t.Run("一致しない場合はfalseを返すこと", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t, ordersDefinition())

		if m, ok := table.Match(http.MethodGet, "/unknown"); ok || m != nil {
			t.Errorf("Match() = %v, %v; want nil, false", m, ok)
		}
	})

	t.Run("同じ入力に対して常に同じ結果を返すこと", func(t *testing.T) {
		t.Parallel()

		table := mustBuild(t, ordersDefinition(), Definition{UpstreamPathPattern: "/{*rest}", DownstreamHost: "svc"})

		first, _ := table.Match(http.MethodGet, "/orders/7")
		for range 100 {
			m, ok := table.Match(http.MethodGet, "/orders/7")
			if !ok || m.Rule != first.Rule || m.Params.Get("id") != first.Params.Get("id") {
				t.Fatalf("結果が変化した: %v", m)
			}
		}
	})

	t.Run("nilテーブルは一致しないこと", func(t *testing.T) {
		t.Parallel()

		var table *Table
		if _, ok := table.Match(http.MethodGet, "/"); ok {
			t.Error("nilテーブルで一致するべきではない")
		}
	})
}

// TestRuleDownstreamURL は転送先URLの組み立てを検証する。
func TestRuleDownstreamURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		def      Definition
		path     string
		rawQuery string
		want     string
	}{
		{
			name: "テンプレート未指定の場合は上流パスがそのまま使われること",
			def:  ordersDefinition(),
			path: "/orders/42",
			want: "http://svc-orders:8080/orders/42",
		},
		{
			name: "テンプレートにパラメータが埋め込まれること",
			def: Definition{
				UpstreamPathPattern:    "/api/users/{id}",
				DownstreamHost:         "users",
				DownstreamScheme:       "https",
				DownstreamPathTemplate: "/v2/accounts/{id}/profile",
			},
			path: "/api/users/abc",
			want: "https://users:443/v2/accounts/abc/profile",
		},
		{
			name: "ワイルドカードとクエリ文字列が引き継がれること",
			def: Definition{
				UpstreamPathPattern:    "/static/{*rest}",
				DownstreamHost:         "cdn",
				DownstreamPort:         9000,
				DownstreamPathTemplate: "/assets/{rest}",
			},
			path:     "/static/css/site.css",
			rawQuery: "v=3&lang=ja",
			want:     "http://cdn:9000/assets/css/site.css?v=3&lang=ja",
		},
		{
			name: "パラメータ内の予約文字がエスケープされること",
			def: Definition{
				UpstreamPathPattern:    "/api/users/{id}",
				DownstreamHost:         "users",
				DownstreamPathTemplate: "/users/{id}",
			},
			path:     "/api/users/a?role=admin#frag 1%",
			rawQuery: "x=1",
			want:     "http://users:80/users/a%3Frole=admin%23frag%201%25?x=1",
		},
		{
			name: "ワイルドカードの各セグメントがエスケープされること",
			def: Definition{
				UpstreamPathPattern:    "/static/{*rest}",
				DownstreamHost:         "cdn",
				DownstreamPathTemplate: "/assets/{rest}",
			},
			path: "/static/dir?x/file#1.css",
			want: "http://cdn:80/assets/dir%3Fx/file%231.css",
		},
		{
			name: "IPv6ホストが角括弧で囲まれること",
			def:  Definition{UpstreamPathPattern: "/x", DownstreamHost: "::1", DownstreamPort: 8080},
			path: "/x",
			want: "http://[::1]:8080/x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			table := mustBuild(t, tt.def)
			m, ok := table.Match(http.MethodGet, tt.path)
			if !ok {
				t.Fatalf("%s が一致するべき", tt.path)
			}
			if got := m.Rule.DownstreamURL(m.Params, tt.rawQuery); got != tt.want {
				t.Errorf("DownstreamURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestHolder はテーブルの差し替えを検証する。
func TestHolder(t *testing.T) {
	t.Parallel()

	t.Run("差し替え後は新しいテーブルが参照されること", func(t *testing.T) {
		t.Parallel()

		h := NewHolder(mustBuild(t, ordersDefinition()))
		if _, ok := h.Load().Match(http.MethodGet, "/orders/1"); !ok {
			t.Fatal("差し替え前に一致するべき")
		}

		h.Store(mustBuild(t, Definition{UpstreamPathPattern: "/invoices/{id}", DownstreamHost: "svc"}))

		if _, ok := h.Load().Match(http.MethodGet, "/orders/1"); ok {
			t.Error("差し替え後は旧ルールに一致するべきではない")
		}
		if _, ok := h.Load().Match(http.MethodGet, "/invoices/1"); !ok {
			t.Error("差し替え後は新ルールに一致するべき")
		}
	})

	t.Run("照合中に差し替えても常にどちらかの完全なテーブルが見えること", func(t *testing.T) {
		t.Parallel()

		a := mustBuild(t,
			Definition{Name: "a1", UpstreamPathPattern: "/x", DownstreamHost: "svc-a"},
			Definition{Name: "a2", UpstreamPathPattern: "/y", DownstreamHost: "svc-a"},
		)
		b := mustBuild(t,
			Definition{Name: "b1", UpstreamPathPattern: "/x", DownstreamHost: "svc-b"},
			Definition{Name: "b2", UpstreamPathPattern: "/y", DownstreamHost: "svc-b"},
		)
		h := NewHolder(a)

		var wg sync.WaitGroup
		stop := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				if i%2 == 0 {
					h.Store(b)
				} else {
					h.Store(a)
				}
			}
		}()

		for range 1000 {
			table := h.Load()
			mx, okx := table.Match(http.MethodGet, "/x")
			my, oky := table.Match(http.MethodGet, "/y")
			if !okx || !oky {
				t.Fatal("一致するべき")
			}
			if mx.Rule.DownstreamHost != my.Rule.DownstreamHost {
				t.Fatalf("異なるテーブルのルールが混在した: %s, %s", mx.Rule.Name, my.Rule.Name)
			}
		}
		close(stop)
		wg.Wait()
	})
}
