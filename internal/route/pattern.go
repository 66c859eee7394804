package route

import (
	"fmt"
	"net/url"
	"strings"
)

// segmentKind はパスパターンのセグメント種別。
type segmentKind int

const (
	// segmentLiteral は文字列として完全一致するセグメント。
	segmentLiteral segmentKind = iota
	// segmentParam は空でない1セグメントに一致する {name} 形式のセグメント。
	segmentParam
	// segmentWildcard は残りのパス全体に一致する {*name} 形式のセグメント。
	segmentWildcard
)

// segment はコンパイル済みのパスセグメント。
type segment struct {
	kind segmentKind
	// value はリテラル文字列またはパラメータ名。
	value string
}

// pattern はコンパイル済みの上流パスパターン。
type pattern struct {
	raw      string
	segments []segment
}

// parsePattern は上流パスパターンを解析する。
func parsePattern(raw string) (*pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("パターンは/で始まる必要があります: %q", raw)
	}

	p := &pattern{raw: raw}
	trimmed := strings.TrimSuffix(raw[1:], "/")
	if trimmed == "" {
		return p, nil
	}

	parts := strings.Split(trimmed, "/")
	seen := make(map[string]struct{}, len(parts))
	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, err
		}
		if seg.kind == segmentWildcard && i != len(parts)-1 {
			return nil, fmt.Errorf("ワイルドカード {*%s} は末尾のセグメントにのみ指定できます", seg.value)
		}
		if seg.kind != segmentLiteral {
			if _, dup := seen[seg.value]; dup {
				return nil, fmt.Errorf("パラメータ名 %q が重複しています", seg.value)
			}
			seen[seg.value] = struct{}{}
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

// parseSegment は1つのパスセグメントを解析する。
func parseSegment(part string) (segment, error) {
	if part == "" {
		return segment{}, fmt.Errorf("空のセグメントは指定できません")
	}

	if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
		name := part[1 : len(part)-1]
		kind := segmentParam
		if n, ok := strings.CutPrefix(name, "*"); ok {
			name = n
			kind = segmentWildcard
		}
		if !isValidParamName(name) {
			return segment{}, fmt.Errorf("パラメータ名 %q が不正です", name)
		}
		return segment{kind: kind, value: name}, nil
	}

	if strings.ContainsAny(part, "{}") {
		return segment{}, fmt.Errorf("セグメント %q の波括弧が不正です", part)
	}
	return segment{kind: segmentLiteral, value: part}, nil
}

// isValidParamName はパラメータ名が英数字・アンダースコア・ハイフンのみで構成されるかを返す。
func isValidParamName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// params はパターンが束縛するパラメータ名を返す。
func (p *pattern) params() map[string]struct{} {
	names := make(map[string]struct{})
	for _, seg := range p.segments {
		if seg.kind != segmentLiteral {
			names[seg.value] = struct{}{}
		}
	}
	return names
}

// match はパスがパターンに一致するかを判定し、一致した場合はパラメータの束縛を返す。
// 末尾のスラッシュ1つは無視する。セグメントの比較は大文字小文字を区別する。
func (p *pattern) match(path string) (Params, bool) {
	if !strings.HasPrefix(path, "/") {
		return nil, false
	}

	trimmed := strings.TrimSuffix(path[1:], "/")
	var parts []string
	if trimmed != "" {
		parts = strings.Split(trimmed, "/")
	}

	var params Params
	for i, seg := range p.segments {
		if seg.kind == segmentWildcard {
			if params == nil {
				params = make(Params, 1)
			}
			params[seg.value] = strings.Join(parts[i:], "/")
			return params, true
		}
		if i >= len(parts) {
			return nil, false
		}
		switch seg.kind {
		case segmentLiteral:
			if parts[i] != seg.value {
				return nil, false
			}
		case segmentParam:
			if parts[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(Params, len(p.segments))
			}
			params[seg.value] = parts[i]
		}
	}

	if len(parts) != len(p.segments) {
		return nil, false
	}
	return params, true
}

// templatePart は下流パステンプレートの構成要素。param が空ならリテラル。
type templatePart struct {
	literal string
	param   string
}

// pathTemplate はコンパイル済みの下流パステンプレート。
type pathTemplate struct {
	raw   string
	parts []templatePart
}

// parseTemplate は下流パステンプレートを解析する。
// {name} と {*name} はいずれも同名パラメータの値で置換される。
func parseTemplate(raw string) (*pathTemplate, error) {
	if !strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("テンプレートは/で始まる必要があります: %q", raw)
	}

	t := &pathTemplate{raw: raw}
	rest := raw
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.ContainsRune(rest, '}') {
				return nil, fmt.Errorf("テンプレート %q の波括弧が対応していません", raw)
			}
			t.parts = append(t.parts, templatePart{literal: rest})
			break
		}
		if open > 0 {
			literal := rest[:open]
			if strings.ContainsRune(literal, '}') {
				return nil, fmt.Errorf("テンプレート %q の波括弧が対応していません", raw)
			}
			t.parts = append(t.parts, templatePart{literal: literal})
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return nil, fmt.Errorf("テンプレート %q の波括弧が閉じられていません", raw)
		}
		name := strings.TrimPrefix(rest[open+1:open+closing], "*")
		if !isValidParamName(name) {
			return nil, fmt.Errorf("テンプレートのパラメータ名 %q が不正です", name)
		}
		t.parts = append(t.parts, templatePart{param: name})
		rest = rest[open+closing+1:]
	}
	return t, nil
}

// render はパラメータの束縛を埋め込んだパスを返す。
// 束縛値はデコード済みのパスから取り出しているため、セグメントごとにエスケープし直す。
// これにより値に含まれる ? や # が転送先URLのクエリやフラグメントになることはない。
func (t *pathTemplate) render(params Params) string {
	var b strings.Builder
	b.Grow(len(t.raw))
	for _, part := range t.parts {
		if part.param == "" {
			b.WriteString(part.literal)
			continue
		}
		writeEscapedPath(&b, params[part.param])
	}
	return b.String()
}

// writeEscapedPath は / で区切られた各セグメントをエスケープして書き出す。
func writeEscapedPath(b *strings.Builder, value string) {
	for i, seg := range strings.Split(value, "/") {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(url.PathEscape(seg))
	}
}
