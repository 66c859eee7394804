package httpclient

import (
	"errors"
	"net"
	"net/http"
	"time"
)

// Options は下流呼び出し用トランスポートの設定。ゼロ値の項目は既定値になる。
type Options struct {
	// DialTimeout はTCP接続の確立にかける時間。
	DialTimeout time.Duration
	// MaxIdleConns は全体で保持するアイドル接続数。
	MaxIdleConns int
	// MaxIdleConnsPerHost は転送先ホストごとに保持するアイドル接続数。
	MaxIdleConnsPerHost int
	// IdleConnTimeout はアイドル接続を保持する時間。
	IdleConnTimeout time.Duration
	// TLSHandshakeTimeout はTLSハンドシェイクにかける時間。
	TLSHandshakeTimeout time.Duration
}

// DefaultOptions は既定のトランスポート設定を返す。
func DefaultOptions() Options {
	return Options{
		DialTimeout:         5 * time.Second,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// Client は下流サービス呼び出し用のHTTPクライアント。
// 複数のゴルーチンから同時に使用できる。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
}

// New は新しい下流呼び出し用HTTPクライアントを生成する。
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = def.MaxIdleConns
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = def.IdleConnTimeout
	}
	if opts.TLSHandshakeTimeout <= 0 {
		opts.TLSHandshakeTimeout = def.TLSHandshakeTimeout
	}

	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          opts.MaxIdleConns,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       opts.IdleConnTimeout,
		TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do はリクエストを送信する。3xxレスポンスもそのまま返す。
// 期限と取り消しはリクエストのコンテキストで制御する。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// CloseIdleConnections は保持しているアイドル接続を閉じる。シャットダウン時に呼び出す。
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// IsTimeout はエラーがネットワークのタイムアウトかどうかを判定する。
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
