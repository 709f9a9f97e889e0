package httpcontext

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newRequestCtx(remoteAddr, userAgent string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	if userAgent != "" {
		req.Header.SetUserAgent(userAgent)
	}

	var addr net.Addr
	if remoteAddr != "" {
		addr, _ = net.ResolveTCPAddr("tcp", remoteAddr)
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, addr, nil)
	return ctx
}

func TestRemoteIPStripsPort(t *testing.T) {
	ctx := newRequestCtx("203.0.113.9:54321", "")
	assert.Equal(t, "203.0.113.9", RemoteIP(ctx))
}

func TestFingerprintCombinesOriginAndAgent(t *testing.T) {
	ctx := newRequestCtx("203.0.113.9:54321", "firefox/128")
	assert.Equal(t, "203.0.113.9|firefox/128", Fingerprint(ctx))
}

func TestFingerprintDiffersAcrossContexts(t *testing.T) {
	a := Fingerprint(newRequestCtx("203.0.113.9:54321", "firefox/128"))
	b := Fingerprint(newRequestCtx("203.0.113.9:54321", "curl/8.0"))
	c := Fingerprint(newRequestCtx("198.51.100.4:54321", "firefox/128"))

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAttachSetsDeadlineAndRequestID(t *testing.T) {
	adapter := NewAdapter(2 * time.Second)
	ctx := &fasthttp.RequestCtx{}

	stdCtx, cancel := adapter.Attach(ctx)
	defer cancel()

	deadline, ok := stdCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, 500*time.Millisecond)
	assert.NotEmpty(t, string(ctx.Response.Header.Peek("X-Request-ID")))
}

func TestAttachPropagatesInboundRequestID(t *testing.T) {
	adapter := NewAdapter(time.Second)
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("X-Request-ID", "req-42")

	_, cancel := adapter.Attach(ctx)
	defer cancel()

	assert.Equal(t, "req-42", string(ctx.Response.Header.Peek("X-Request-ID")))
}
