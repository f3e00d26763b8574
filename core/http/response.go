package http

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/searchktools/reactor-server/core/pools"
	"github.com/searchktools/reactor-server/core/sendfile"
	"github.com/searchktools/reactor-server/core/transport"
)

// Context is the per-request collaborator handed to a route's handler: it
// exposes the routed request's data and a one-shot response writer backed
// by the owning peer's asynchronous write path. A handler must not retain
// a Context past the call that received it — it is pooled and reused for
// the next request on the same connection.
type Context interface {
	Method() string
	Path() string
	Param(key string) string
	HasParam(key string) bool
	Splat(i int) (string, bool)
	Splats() []string
	Query(key string) string
	Header(key string) string
	Cookie(name string) (string, bool)
	Body() []byte
	SetParam(key, value string)

	String(code int, s string)
	JSON(code int, v any)
	Bytes(code int, data []byte)
	Data(code int, contentType string, data []byte)
	Error(code int, message string)
	Success(data any)
	ServeFile(filePath string) error

	SetHeader(key, value string)
	SetCookie(c Cookie)
	Status(code int)

	Abort()
	IsAborted() bool

	Bind(v any) error
	Peer() *transport.Peer
}

// FDContext is the Context implementation bound to a transport.Peer.
type FDContext struct {
	peer    *transport.Peer
	request *Request

	paramKeys        [4]string
	paramValues      [4]string
	paramCount       int
	paramMapOverflow map[string]string

	responseBuf     []byte
	responseHeaders map[string]string
	cookies         jar
	splats          []string

	closeAfter bool
	aborted    bool
}

var contextPool = pools.NewSmartPool(pools.SmartPoolConfig{
	New: func() any {
		return &FDContext{responseBuf: make([]byte, 0, 4096)}
	},
	WarmupSize:    200,
	TargetHitRate: 0.9,
})

// AcquireContext fetches a pooled Context bound to peer and req.
func AcquireContext(peer *transport.Peer, req *Request) *FDContext {
	ctx := contextPool.Get().(*FDContext)
	ctx.peer = peer
	ctx.request = req
	ctx.paramCount = 0
	ctx.paramMapOverflow = nil
	ctx.closeAfter = req.Connection == "close"
	ctx.splats = nil
	ctx.aborted = false
	return ctx
}

// Abort marks the pipeline as short-circuited: Pipeline.Execute checks
// IsAborted after every middleware and skips the rest, including the final
// handler, once it is set.
func (c *FDContext) Abort() { c.aborted = true }

// IsAborted reports whether Abort has been called for this request.
func (c *FDContext) IsAborted() bool { return c.aborted }

// Status writes a response with no body, just the status line and headers.
func (c *FDContext) Status(code int) { c.send(code, "text/plain", nil) }

// SetSplats installs the captured splat fragments for this request, in
// pattern order.
func (c *FDContext) SetSplats(splats []string) { c.splats = splats }

func (c *FDContext) HasParam(key string) bool {
	for i := 0; i < c.paramCount && i < 4; i++ {
		if c.paramKeys[i] == key {
			return true
		}
	}
	if c.paramMapOverflow != nil {
		_, ok := c.paramMapOverflow[key]
		return ok
	}
	return false
}

func (c *FDContext) Splat(i int) (string, bool) {
	if i < 0 || i >= len(c.splats) {
		return "", false
	}
	return c.splats[i], true
}

func (c *FDContext) Splats() []string { return c.splats }

// ReleaseContext returns ctx to the pool. Call only after the response has
// been fully handed to the peer's write path.
func ReleaseContext(ctx *FDContext) {
	ctx.peer = nil
	ctx.request = nil
	ctx.paramCount = 0
	if ctx.paramMapOverflow != nil {
		for k := range ctx.paramMapOverflow {
			delete(ctx.paramMapOverflow, k)
		}
	}
	if ctx.responseHeaders != nil {
		for k := range ctx.responseHeaders {
			delete(ctx.responseHeaders, k)
		}
	}
	ctx.cookies.reset()
	ctx.splats = nil
	ctx.aborted = false
	contextPool.Put(ctx)
}

// ContextPoolStats reports the hit rate of the context pool, for callers
// wanting to monitor allocation pressure under load.
func ContextPoolStats() pools.SmartPoolStats { return contextPool.Stats() }

func (c *FDContext) Peer() *transport.Peer { return c.peer }

func (c *FDContext) SetParam(key, value string) {
	if c.paramCount < 4 {
		c.paramKeys[c.paramCount] = key
		c.paramValues[c.paramCount] = value
		c.paramCount++
		return
	}
	if c.paramMapOverflow == nil {
		c.paramMapOverflow = make(map[string]string)
	}
	c.paramMapOverflow[key] = value
}

func (c *FDContext) Param(key string) string {
	for i := 0; i < c.paramCount && i < 4; i++ {
		if c.paramKeys[i] == key {
			return c.paramValues[i]
		}
	}
	if c.paramMapOverflow != nil {
		return c.paramMapOverflow[key]
	}
	return ""
}

func (c *FDContext) Method() string { return c.request.Method }
func (c *FDContext) Path() string   { return c.request.Path }

func (c *FDContext) Query(key string) string {
	if c.request.Query == nil {
		return ""
	}
	return c.request.Query[key]
}

func (c *FDContext) Header(key string) string { return c.request.Header(key) }

func (c *FDContext) Cookie(name string) (string, bool) { return c.request.Cookie(name) }

func (c *FDContext) Body() []byte { return c.request.Body }

func (c *FDContext) Bind(v any) error { return json.Unmarshal(c.request.Body, v) }

func (c *FDContext) SetHeader(key, value string) {
	if c.responseHeaders == nil {
		c.responseHeaders = make(map[string]string, 4)
	}
	c.responseHeaders[key] = value
}

func (c *FDContext) SetCookie(ck Cookie) { c.cookies.Add(ck) }

// writeHeader writes the status line and every response header (content
// headers, any handler-set headers, and the cookie jar) into c.responseBuf,
// replacing its previous contents.
func (c *FDContext) writeHeader(code int, contentType string, contentLength int) {
	c.responseBuf = c.responseBuf[:0]
	c.responseBuf = append(c.responseBuf, "HTTP/1.1 "...)
	c.responseBuf = appendInt(c.responseBuf, code)
	c.responseBuf = append(c.responseBuf, ' ')
	c.responseBuf = append(c.responseBuf, statusText(code)...)
	c.responseBuf = append(c.responseBuf, "\r\nContent-Type: "...)
	c.responseBuf = append(c.responseBuf, contentType...)
	c.responseBuf = append(c.responseBuf, "\r\nContent-Length: "...)
	c.responseBuf = appendInt(c.responseBuf, contentLength)
	c.responseBuf = append(c.responseBuf, "\r\n"...)
	for k, v := range c.responseHeaders {
		c.responseBuf = append(c.responseBuf, k...)
		c.responseBuf = append(c.responseBuf, ": "...)
		c.responseBuf = append(c.responseBuf, v...)
		c.responseBuf = append(c.responseBuf, "\r\n"...)
	}
	if c.closeAfter {
		c.responseBuf = append(c.responseBuf, "Connection: close\r\n"...)
	}
	c.responseBuf = c.cookies.appendHeaders(c.responseBuf)
	c.responseBuf = append(c.responseBuf, "\r\n"...)
}

// send writes the header block plus body as a single asynchronous write,
// closing the peer afterward if the request demanded it.
func (c *FDContext) send(code int, contentType string, body []byte) {
	if c.peer == nil {
		// No connection attached: used by middleware unit tests that drive
		// a Context directly without a live Transport.
		return
	}
	c.writeHeader(code, contentType, len(body))
	total := len(c.responseBuf) + len(body)
	outPtr := pools.AcquireBuffer(total)
	out := (*outPtr)[:0]
	out = append(out, c.responseBuf...)
	out = append(out, body...)
	*outPtr = out

	peer := c.peer
	closeAfter := c.closeAfter
	peer.Write(transport.BytesPayload(out), 0, func(int) {
		pools.ReleaseBuffer(outPtr)
		if closeAfter {
			peer.Close()
		}
	}, func(err error) {
		pools.ReleaseBuffer(outPtr)
		peer.Close()
	})
}

func (c *FDContext) Data(code int, contentType string, data []byte) { c.send(code, contentType, data) }
func (c *FDContext) Bytes(code int, data []byte)                    { c.send(code, "application/octet-stream", data) }
func (c *FDContext) String(code int, s string)                      { c.send(code, "text/plain", []byte(s)) }

func (c *FDContext) JSON(code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.send(500, "text/plain", []byte("JSON marshal error"))
		return
	}
	c.send(code, "application/json", data)
}

func (c *FDContext) Error(code int, message string) {
	c.JSON(code, map[string]any{"code": code, "message": message})
}

func (c *FDContext) Success(data any) {
	c.JSON(200, map[string]any{"code": 0, "message": "success", "data": data})
}

// ServeFile streams filePath to the peer with sendfile(2): headers go out
// as a regular write, and the file payload follows as a zero-copy write
// once the header write resolves.
func (c *FDContext) ServeFile(filePath string) error {
	f, err := sendfile.OpenCached(filePath)
	if err != nil {
		c.send(404, "text/plain", []byte("File not found"))
		return err
	}

	stat, err := os.Stat(filePath)
	if err != nil {
		c.send(500, "text/plain", []byte("Internal server error"))
		return err
	}
	size := int(stat.Size())

	c.writeHeader(200, sendfile.GetContentType(filePath), size)
	header := make([]byte, len(c.responseBuf))
	copy(header, c.responseBuf)

	peer := c.peer
	closeAfter := c.closeAfter
	fileFD := int(f.Fd())
	peer.Write(transport.BytesPayload(header), 0, func(int) {
		peer.Write(transport.FilePayload(fileFD, 0, size), 0, func(int) {
			if closeAfter {
				peer.Close()
			}
		}, func(err error) {
			peer.Close()
		})
	}, func(err error) {
		peer.Close()
	})
	return nil
}

// appendInt appends the base-10 rendering of i to b without allocating an
// intermediate string.
func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}
	if i < 0 {
		b = append(b, '-')
		i = -i
	}
	digits := 0
	for tmp := i; tmp > 0; tmp /= 10 {
		digits++
	}
	start := len(b)
	for j := 0; j < digits; j++ {
		b = append(b, '0')
	}
	for j := digits - 1; j >= 0; j-- {
		b[start+j] = byte('0' + i%10)
		i /= 10
	}
	return b
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	default:
		return fmt.Sprintf("Status %d", code)
	}
}
