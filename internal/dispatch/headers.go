package dispatch

import (
	"net"
	"net/http"
	"strings"
)

// HeaderUserID は認証済みユーザーIDを下流サービスへ伝播するHTTPヘッダーキー。
const HeaderUserID = "X-User-ID"

// hopHeaders は転送しないホップバイホップヘッダー。
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopHeaders はホップバイホップヘッダーと Connection に列挙されたヘッダーを削除する。
func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// outboundHeader は下流へ送るリクエストヘッダーを組み立てる。
// 受信した X-User-ID は常に破棄し、認証済みの場合だけ userID で設定し直す。
func outboundHeader(r *http.Request, userID string) http.Header {
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	removeHopHeaders(h)
	h.Del("Host")
	h.Del(HeaderUserID)
	if userID != "" {
		h.Set(HeaderUserID, userID)
	}

	if clientIP := clientIP(r); clientIP != "" {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			h.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			h.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
	h.Set("X-Forwarded-Host", r.Host)
	return h
}

// clientIP は接続元アドレスのIP部分を返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// copyResponseHeader は下流のレスポンスヘッダーをホップバイホップヘッダーを除いてコピーする。
func copyResponseHeader(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)
}
