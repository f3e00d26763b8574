package http

import "testing"

func TestParseRequestLine(t *testing.T) {
	raw := "GET /value/hits?x=1 HTTP/1.1\r\nHost: example.com\r\nCookie: session=abc; lang=en\r\n\r\n"

	req, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	defer ReleaseRequest(req)

	if req.Method != "GET" || req.Path != "/value/hits" || req.Proto != "HTTP/1.1" {
		t.Errorf("got method=%q path=%q proto=%q", req.Method, req.Path, req.Proto)
	}
	if req.Query["x"] != "1" {
		t.Errorf("expected query x=1, got %v", req.Query)
	}
	if req.Host != "example.com" {
		t.Errorf("expected Host header, got %q", req.Host)
	}
	if v, ok := req.Cookie("session"); !ok || v != "abc" {
		t.Errorf("expected session cookie abc, got %q %v", v, ok)
	}
	if v, ok := req.Cookie("lang"); !ok || v != "en" {
		t.Errorf("expected lang cookie en, got %q %v", v, ok)
	}
}

func TestParseRequestBody(t *testing.T) {
	raw := "POST /record/hits HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"

	req, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	defer ReleaseRequest(req)

	if string(req.Body) != "hello" {
		t.Errorf("expected body %q, got %q", "hello", req.Body)
	}
}

func TestParseRequestMalformed(t *testing.T) {
	if _, err := ParseRequest([]byte("not a request")); err != ErrInvalidRequest {
		t.Errorf("expected ErrInvalidRequest for a header-less line, got %v", err)
	}
	if _, err := ParseRequest([]byte("GET\r\n\r\n")); err != ErrInvalidRequest {
		t.Errorf("expected ErrInvalidRequest for a method-only line, got %v", err)
	}
}

// A header field whose value contains a forbidden control byte must be
// dropped rather than stored verbatim.
func TestParseHeadersRejectsInvalidFieldValue(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Bad: evil\x00value\r\nX-Good: fine\r\n\r\n"

	req, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	defer ReleaseRequest(req)

	if req.Header("X-Bad") != "" {
		t.Errorf("expected X-Bad to be rejected, got %q", req.Header("X-Bad"))
	}
	if req.Header("X-Good") != "fine" {
		t.Errorf("expected X-Good to survive, got %q", req.Header("X-Good"))
	}
}

func TestAssemblerSinglePartialRequest(t *testing.T) {
	var a Assembler

	out := a.Feed([]byte("GET / HTTP/1.1\r\nHost: "))
	if len(out) != 0 {
		t.Fatalf("partial headers should not yield a request, got %d", len(out))
	}

	out = a.Feed([]byte("x\r\n\r\n"))
	if len(out) != 1 {
		t.Fatalf("expected exactly one assembled request, got %d", len(out))
	}
}

// A single delivery holding two pipelined requests back to back must
// assemble both, oldest first, with nothing left over.
func TestAssemblerPipelinedRequests(t *testing.T) {
	var a Assembler

	req1 := "GET /a HTTP/1.1\r\nHost: x\r\n\r\n"
	req2 := "GET /b HTTP/1.1\r\nHost: x\r\n\r\n"

	out := a.Feed([]byte(req1 + req2))
	if len(out) != 2 {
		t.Fatalf("expected 2 assembled requests, got %d", len(out))
	}
	if string(out[0]) != req1 {
		t.Errorf("first request mismatch: %q", out[0])
	}
	if string(out[1]) != req2 {
		t.Errorf("second request mismatch: %q", out[1])
	}
	if len(a.buf) != 0 {
		t.Errorf("assembler should have no leftover buffer, got %d bytes", len(a.buf))
	}
}

func TestAssemblerRequestWithBody(t *testing.T) {
	var a Assembler

	full := "POST /record/hits HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc"
	// Feed byte by byte to exercise the cross-call buffering path.
	var out [][]byte
	for i := 0; i < len(full); i++ {
		out = append(out, a.Feed([]byte{full[i]})...)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one request once the body arrives, got %d", len(out))
	}
	if string(out[0]) != full {
		t.Errorf("assembled request mismatch: %q", out[0])
	}
}

func TestCookieJarAppendHeaders(t *testing.T) {
	var j jar
	j.Add(Cookie{Name: "lang", Value: "en-US"})
	j.Add(Cookie{Name: "session", Value: "abc", Path: "/", MaxAge: 3600, HTTPOnly: true, Secure: true})

	out := j.appendHeaders(nil)
	got := string(out)

	want := "Set-Cookie: lang=en-US\r\n" +
		"Set-Cookie: session=abc; Path=/; Max-Age=3600; HttpOnly; Secure\r\n"
	if got != want {
		t.Errorf("appendHeaders() =\n%q\nwant\n%q", got, want)
	}
}

func TestCookieJarReset(t *testing.T) {
	var j jar
	j.Add(Cookie{Name: "a", Value: "1"})
	j.reset()
	if len(j.appendHeaders(nil)) != 0 {
		t.Error("reset jar should produce no Set-Cookie headers")
	}
}

func TestRequestCookieHeaderParsing(t *testing.T) {
	req := AcquireRequest()
	defer ReleaseRequest(req)

	req.SetHeader("Cookie", "session=abc; lang=en-US")
	if v, ok := req.Cookie("session"); !ok || v != "abc" {
		t.Errorf("expected session=abc, got %q %v", v, ok)
	}
	if v, ok := req.Cookie("lang"); !ok || v != "en-US" {
		t.Errorf("expected lang=en-US, got %q %v", v, ok)
	}
	if _, ok := req.Cookie("missing"); ok {
		t.Error("expected missing cookie to be absent")
	}
}

func TestFDContextWriteHeaderIncludesCookies(t *testing.T) {
	c := &FDContext{}
	c.cookies.Add(Cookie{Name: "lang", Value: "en-US"})
	c.writeHeader(200, "text/plain", 1)

	got := string(c.responseBuf)
	if want := "HTTP/1.1 200 OK\r\n"; got[:len(want)] != want {
		t.Errorf("status line = %q, want prefix %q", got, want)
	}
	if !contains(got, "Set-Cookie: lang=en-US\r\n") {
		t.Errorf("expected Set-Cookie header in %q", got)
	}
	if !contains(got, "Content-Length: 1\r\n") {
		t.Errorf("expected Content-Length header in %q", got)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestFDContextParamsAndSplats(t *testing.T) {
	c := &FDContext{}
	c.SetParam("metric", "hits")
	c.SetParam("amount", "5")
	c.SetSplats([]string{"readme.txt"})

	if !c.HasParam("metric") || c.Param("metric") != "hits" {
		t.Errorf("expected metric=hits, got %q", c.Param("metric"))
	}
	if !c.HasParam("amount") || c.Param("amount") != "5" {
		t.Errorf("expected amount=5, got %q", c.Param("amount"))
	}
	if c.HasParam("missing") {
		t.Error("expected missing param to be absent")
	}

	s, ok := c.Splat(0)
	if !ok || s != "readme.txt" {
		t.Errorf("expected splat 0 = readme.txt, got %q %v", s, ok)
	}
	if _, ok := c.Splat(1); ok {
		t.Error("expected out-of-range splat access to fail")
	}
}

func TestFDContextAbort(t *testing.T) {
	c := &FDContext{}
	if c.IsAborted() {
		t.Fatal("new context should not be aborted")
	}
	c.Abort()
	if !c.IsAborted() {
		t.Error("expected IsAborted() to be true after Abort()")
	}
}

func TestFDContextStatusWithoutPeerIsNoop(t *testing.T) {
	c := &FDContext{}
	// peer is nil: send() must return without panicking.
	c.Status(204)
	c.String(200, "ok")
	c.JSON(200, map[string]string{"a": "b"})
}
