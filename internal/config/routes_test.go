package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/nao1215/gateway/internal/route"
)

const yamlRoutes = `
downstreamTimeout: 5s
routes:
  - name: orders
    upstreamPathPattern: /orders/{id}
    upstreamMethods: [GET, DELETE]
    downstreamHost: svc-orders
    downstreamPort: 8080
    downstreamPathTemplate: /api/orders/{id}
    requiresAuthentication: true
    timeout: 1500ms
  - name: public
    upstreamPathPattern: /public/{*rest}
    downstreamScheme: https
    downstreamHost: static.internal
`

// TestParseRoutes はルート定義の解析を検証する。
func TestParseRoutes(t *testing.T) {
	t.Parallel()

	t.Run("YAMLのルート定義を読み込めること", func(t *testing.T) {
		t.Parallel()

		set, err := ParseRoutes([]byte(yamlRoutes))
		if err != nil {
			t.Fatalf("ParseRoutes()でエラーが発生: %v", err)
		}
		if set.DownstreamTimeout != 5*time.Second {
			t.Errorf("DownstreamTimeout = %v, want 5s", set.DownstreamTimeout)
		}
		if len(set.Definitions) != 2 {
			t.Fatalf("ルート数 = %d, want 2", len(set.Definitions))
		}

		orders := set.Definitions[0]
		if orders.Name != "orders" || orders.UpstreamPathPattern != "/orders/{id}" {
			t.Errorf("orders = %+v", orders)
		}
		if !slices.Equal(orders.UpstreamMethods, []string{"GET", "DELETE"}) {
			t.Errorf("UpstreamMethods = %v", orders.UpstreamMethods)
		}
		if orders.DownstreamHost != "svc-orders" || orders.DownstreamPort != 8080 {
			t.Errorf("downstream = %s:%d", orders.DownstreamHost, orders.DownstreamPort)
		}
		if !orders.RequiresAuthentication {
			t.Error("RequiresAuthentication = false, want true")
		}
		if orders.Timeout != 1500*time.Millisecond {
			t.Errorf("Timeout = %v, want 1.5s", orders.Timeout)
		}

		public := set.Definitions[1]
		if public.RequiresAuthentication {
			t.Error("RequiresAuthentication = true, want false")
		}
		if public.DownstreamScheme != "https" {
			t.Errorf("DownstreamScheme = %q, want https", public.DownstreamScheme)
		}

		if _, err := route.Build(set.Definitions); err != nil {
			t.Errorf("Build()でエラーが発生: %v", err)
		}
	})

	t.Run("JSONのルート定義を読み込めること", func(t *testing.T) {
		t.Parallel()

		data := `{"routes": [{"upstreamPathPattern": "/users/{id}", "downstreamHost": "svc-users", "requiresAuthentication": false}]}`
		set, err := ParseRoutes([]byte(data))
		if err != nil {
			t.Fatalf("ParseRoutes()でエラーが発生: %v", err)
		}
		if len(set.Definitions) != 1 || set.Definitions[0].DownstreamHost != "svc-users" {
			t.Errorf("Definitions = %+v", set.Definitions)
		}
		if set.DownstreamTimeout != 0 {
			t.Errorf("DownstreamTimeout = %v, want 0", set.DownstreamTimeout)
		}
	})

	t.Run("Ocelot形式のルート定義を読み込めること", func(t *testing.T) {
		t.Parallel()

		data := `{
  "Routes": [
    {
      "UpstreamPathTemplate": "/gateway/albums/{id}",
      "UpstreamHttpMethod": ["Get"],
      "DownstreamPathTemplate": "/api/albums/{id}",
      "DownstreamScheme": "http",
      "DownstreamHostAndPorts": [{"Host": "album", "Port": 8082}],
      "AuthenticationOptions": {"AuthenticationProviderKey": "Bearer"}
    }
  ]
}`
		set, err := ParseRoutes([]byte(data))
		if err != nil {
			t.Fatalf("ParseRoutes()でエラーが発生: %v", err)
		}
		if len(set.Definitions) != 1 {
			t.Fatalf("ルート数 = %d, want 1", len(set.Definitions))
		}
		def := set.Definitions[0]
		if def.UpstreamPathPattern != "/gateway/albums/{id}" {
			t.Errorf("UpstreamPathPattern = %q", def.UpstreamPathPattern)
		}
		if !slices.Equal(def.UpstreamMethods, []string{"Get"}) {
			t.Errorf("UpstreamMethods = %v", def.UpstreamMethods)
		}
		if def.DownstreamHost != "album" || def.DownstreamPort != 8082 {
			t.Errorf("downstream = %s:%d", def.DownstreamHost, def.DownstreamPort)
		}
		if !def.RequiresAuthentication {
			t.Error("RequiresAuthentication = false, want true")
		}

		table, err := route.Build(set.Definitions)
		if err != nil {
			t.Fatalf("Build()でエラーが発生: %v", err)
		}
		if _, ok := table.Match("GET", "/gateway/albums/7"); !ok {
			t.Error("GET /gateway/albums/7 に一致しない")
		}
	})

	t.Run("空のファイルはルート0件になること", func(t *testing.T) {
		t.Parallel()

		set, err := ParseRoutes(nil)
		if err != nil {
			t.Fatalf("ParseRoutes()でエラーが発生: %v", err)
		}
		if len(set.Definitions) != 0 {
			t.Errorf("ルート数 = %d, want 0", len(set.Definitions))
		}
	})

	t.Run("解析できない内容は設定エラーになること", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			data string
		}{
			{name: "構文エラー", data: "routes: [\n"},
			{name: "型の不一致", data: "routes:\n  - downstreamPort: eighty\n"},
			{name: "既定期限が不正", data: "downstreamTimeout: later\nroutes: []\n"},
			{name: "ルートの期限が負", data: "routes:\n  - upstreamPathPattern: /a\n    downstreamHost: a\n    timeout: -1s\n"},
		}
		for _, tt := range tests {
			if _, err := ParseRoutes([]byte(tt.data)); !errors.Is(err, route.ErrConfiguration) {
				t.Errorf("%s: err = %v, want %v", tt.name, err, route.ErrConfiguration)
			}
		}
	})
}

// TestLoadRoutes はファイルからのルート定義読み込みを検証する。
func TestLoadRoutes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	if err := os.WriteFile(path, []byte(yamlRoutes), 0o600); err != nil {
		t.Fatalf("ファイルの書き込みに失敗: %v", err)
	}

	set, err := LoadRoutes(path)
	if err != nil {
		t.Fatalf("LoadRoutes()でエラーが発生: %v", err)
	}
	if len(set.Definitions) != 2 {
		t.Errorf("ルート数 = %d, want 2", len(set.Definitions))
	}

	if _, err := LoadRoutes(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want %v", err, os.ErrNotExist)
	}
}
