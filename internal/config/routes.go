package config

import (
	"fmt"
	"os"
	"time"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/gateway/internal/route"
)

// RouteSet はルート定義ファイルの内容。
type RouteSet struct {
	// Definitions は宣言順のルート定義。
	Definitions []route.Definition
	// DownstreamTimeout はファイルで指定された既定の下流呼び出し期限。未指定の場合は0。
	DownstreamTimeout time.Duration
}

// routeDocument はルート定義ファイルの構造。
// JSONはYAMLの部分集合として同じデコーダで読み込む。
type routeDocument struct {
	Routes            []routeEntry `yaml:"routes"`
	DownstreamTimeout string       `yaml:"downstreamTimeout"`
}

type routeEntry struct {
	Name                   string          `yaml:"name"`
	UpstreamPathPattern    string          `yaml:"upstreamPathPattern"`
	UpstreamPathTemplate   string          `yaml:"upstreamPathTemplate"`
	UpstreamMethods        []string        `yaml:"upstreamMethods"`
	UpstreamHTTPMethod     []string        `yaml:"upstreamHttpMethod"`
	DownstreamScheme       string          `yaml:"downstreamScheme"`
	DownstreamHost         string          `yaml:"downstreamHost"`
	DownstreamPort         int             `yaml:"downstreamPort"`
	DownstreamHostAndPorts []hostAndPort   `yaml:"downstreamHostAndPorts"`
	DownstreamPathTemplate string          `yaml:"downstreamPathTemplate"`
	RequiresAuthentication bool            `yaml:"requiresAuthentication"`
	AuthenticationOptions  *authentication `yaml:"authenticationOptions"`
	Timeout                string          `yaml:"timeout"`
}

type hostAndPort struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type authentication struct {
	AuthenticationProviderKey string `yaml:"authenticationProviderKey"`
}

// LoadRoutes はルート定義ファイルを読み込む。
func LoadRoutes(path string) (*RouteSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ルート定義ファイルの読み込みに失敗: %w", err)
	}
	set, err := ParseRoutes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// ParseRoutes はYAMLまたはJSONのルート定義を解析する。
//
// キーの先頭文字は大文字小文字を区別しないため、Ocelot形式の
// "Routes" / "UpstreamPathTemplate" / "DownstreamHostAndPorts" なども読み込める。
// 解析のみを行い、ルートの検証は route.Build に任せる。
func ParseRoutes(data []byte) (*RouteSet, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", route.ErrConfiguration, err)
	}
	var doc routeDocument
	if root.Kind != 0 {
		normalizeKeys(&root)
		if err := root.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", route.ErrConfiguration, err)
		}
	}

	set := &RouteSet{Definitions: make([]route.Definition, 0, len(doc.Routes))}
	if doc.DownstreamTimeout != "" {
		d, err := parseTimeout(doc.DownstreamTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: downstreamTimeout: %v", route.ErrConfiguration, err)
		}
		set.DownstreamTimeout = d
	}

	for i, entry := range doc.Routes {
		def, err := entry.definition()
		if err != nil {
			return nil, &route.ConfigError{Index: i, Name: entry.Name, Field: "timeout", Reason: err.Error()}
		}
		set.Definitions = append(set.Definitions, def)
	}
	return set, nil
}

// definition はファイル上のエントリをルート定義に変換する。
func (e routeEntry) definition() (route.Definition, error) {
	def := route.Definition{
		Name:                   e.Name,
		UpstreamPathPattern:    firstNonEmpty(e.UpstreamPathPattern, e.UpstreamPathTemplate),
		UpstreamMethods:        e.UpstreamMethods,
		DownstreamScheme:       e.DownstreamScheme,
		DownstreamHost:         e.DownstreamHost,
		DownstreamPort:         e.DownstreamPort,
		DownstreamPathTemplate: e.DownstreamPathTemplate,
		RequiresAuthentication: e.RequiresAuthentication,
	}
	if len(def.UpstreamMethods) == 0 {
		def.UpstreamMethods = e.UpstreamHTTPMethod
	}
	// 転送先は1つだけ扱う。複数指定された場合は先頭を使う。
	if def.DownstreamHost == "" && len(e.DownstreamHostAndPorts) > 0 {
		def.DownstreamHost = e.DownstreamHostAndPorts[0].Host
		def.DownstreamPort = e.DownstreamHostAndPorts[0].Port
	}
	if e.AuthenticationOptions != nil && e.AuthenticationOptions.AuthenticationProviderKey != "" {
		def.RequiresAuthentication = true
	}
	if e.Timeout != "" {
		d, err := parseTimeout(e.Timeout)
		if err != nil {
			return route.Definition{}, err
		}
		def.Timeout = d
	}
	return def, nil
}

func parseTimeout(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("期間 %q を解釈できません", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("期間は正の値である必要があります: %q", v)
	}
	return d, nil
}

// normalizeKeys はマッピングのキーの先頭文字を小文字にそろえる。
func normalizeKeys(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if key.Kind == yaml.ScalarNode {
				key.Value = lowerFirst(key.Value)
			}
		}
	}
	for _, child := range n.Content {
		normalizeKeys(child)
	}
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsLower(r) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
