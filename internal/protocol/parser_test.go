package protocol

import (
	"fmt"
	"testing"

	"github.com/goceleris/celeris/internal/buffer"
)

func feed(t *testing.T, p *Parser, s string) Result {
	t.Helper()
	b := buffer.New()
	b.AppendString(s)
	return p.Feed(b)
}

func TestParseSimpleGet(t *testing.T) {
	p := NewParser(nil)
	res := feed(t, p, "GET / HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n")

	if res != Done {
		t.Fatalf("Feed = %v, want Done", res)
	}
	if p.Method() != "GET" {
		t.Errorf("Method() = %q", p.Method())
	}
	if p.Path() != "/index.html" {
		t.Errorf("Path() = %q, want /index.html", p.Path())
	}
	if p.Version() != "1.1" {
		t.Errorf("Version() = %q", p.Version())
	}
	if !p.KeepAlive() {
		t.Error("KeepAlive() = false")
	}
}

func TestPathNormalization(t *testing.T) {
	cases := []struct {
		target string
		want   string
	}{
		{"/", "/index.html"},
		{"/index", "/index.html"},
		{"/register", "/register.html"},
		{"/login", "/login.html"},
		{"/welcome", "/welcome.html"},
		{"/video", "/video.html"},
		{"/picture", "/picture.html"},
		{"/favicon.ico", "/favicon.ico.html"},
		{"/other", "/other"},
		{"/deep/login", "/deep/login.html"},
		{"/style.css", "/style.css"},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			p := NewParser(nil)
			res := feed(t, p, fmt.Sprintf("GET %s HTTP/1.1\r\n\r\n", tc.target))
			if res != Done {
				t.Fatalf("Feed = %v", res)
			}
			if p.Path() != tc.want {
				t.Errorf("Path() = %q, want %q", p.Path(), tc.want)
			}
		})
	}
}

func TestRejectsUnsupportedMethod(t *testing.T) {
	for _, method := range []string{"PUT", "DELETE", "HEAD", "OPTIONS", "get"} {
		t.Run(method, func(t *testing.T) {
			p := NewParser(nil)
			if res := feed(t, p, method+" / HTTP/1.1\r\n\r\n"); res != Error {
				t.Errorf("Feed = %v, want Error", res)
			}
		})
	}
}

func TestRejectsMalformedRequestLine(t *testing.T) {
	for _, line := range []string{
		"GET /\r\n\r\n",
		"GET / nothttp\r\n\r\n",
		"GET / HTTP/1.1 extra\r\n\r\n",
	} {
		p := NewParser(nil)
		if res := feed(t, p, line); res != Error {
			t.Errorf("Feed(%q) = %v, want Error", line, res)
		}
	}
}

func TestRejectsMalformedHeader(t *testing.T) {
	p := NewParser(nil)
	if res := feed(t, p, "GET / HTTP/1.1\r\nno-colon-here\r\n\r\n"); res != Error {
		t.Errorf("Feed = %v, want Error", res)
	}
}

func TestHeaderLookupCaseInsensitive(t *testing.T) {
	p := NewParser(nil)
	feed(t, p, "GET / HTTP/1.1\r\ncontent-type: text/plain\r\n\r\n")
	if got := p.Header("Content-Type"); got != "text/plain" {
		t.Errorf("Header(Content-Type) = %q", got)
	}
	if got := p.Header("CONTENT-TYPE"); got != "text/plain" {
		t.Errorf("Header(CONTENT-TYPE) = %q", got)
	}
}

func TestDuplicateHeaderOverwrites(t *testing.T) {
	p := NewParser(nil)
	feed(t, p, "GET / HTTP/1.1\r\nX-A: one\r\nX-A: two\r\n\r\n")
	if got := p.Header("X-A"); got != "two" {
		t.Errorf("Header(X-A) = %q, want two", got)
	}
}

func TestKeepAliveMatrix(t *testing.T) {
	cases := []struct {
		name string
		req  string
		want bool
	}{
		{"1.1 keep-alive", "GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n", true},
		{"1.1 close", "GET / HTTP/1.1\r\nConnection: close\r\n\r\n", false},
		{"1.1 absent", "GET / HTTP/1.1\r\n\r\n", false},
		{"1.0 keep-alive", "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewParser(nil)
			if res := feed(t, p, tc.req); res != Done {
				t.Fatalf("Feed = %v", res)
			}
			if p.KeepAlive() != tc.want {
				t.Errorf("KeepAlive() = %v, want %v", p.KeepAlive(), tc.want)
			}
		})
	}
}

// TestStreamingEquivalence feeds the same request split at every byte
// boundary and verifies the parse is identical to the unfragmented one.
func TestStreamingEquivalence(t *testing.T) {
	req := "POST /login HTTP/1.1\r\nHost: a\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: 29\r\n\r\nusername=alice&password=s%3Dt"

	whole := NewParser(nil)
	if res := feed(t, whole, req); res != Done {
		t.Fatalf("whole parse = %v", res)
	}

	for split := 1; split < len(req); split++ {
		p := NewParser(nil)
		b := buffer.New()

		b.AppendString(req[:split])
		first := p.Feed(b)
		b.AppendString(req[split:])
		second := p.Feed(b)

		if second != Done {
			t.Fatalf("split %d: second Feed = %v (first was %v)", split, second, first)
		}
		if p.Method() != whole.Method() || p.Path() != whole.Path() || p.Version() != whole.Version() {
			t.Fatalf("split %d: fields diverge: %q %q %q", split, p.Method(), p.Path(), p.Version())
		}
		if p.Form("username") != "alice" || p.Form("password") != "s=t" {
			t.Fatalf("split %d: form = %q/%q", split, p.Form("username"), p.Form("password"))
		}
	}
}

func TestSplitRequestNeedMoreThenDone(t *testing.T) {
	p := NewParser(nil)
	b := buffer.New()

	b.AppendString("GE")
	if res := p.Feed(b); res != NeedMore {
		t.Fatalf("first Feed = %v, want NeedMore", res)
	}
	b.AppendString("T / HTTP/1.1\r\n\r\n")
	if res := p.Feed(b); res != Done {
		t.Fatalf("second Feed = %v, want Done", res)
	}
	if p.Path() != "/index.html" {
		t.Errorf("Path() = %q", p.Path())
	}
	if p.KeepAlive() {
		t.Error("KeepAlive() = true without Connection header")
	}
}

func TestContentLengthZeroPost(t *testing.T) {
	p := NewParser(nil)
	res := feed(t, p, "POST /submit HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: 0\r\n\r\n")
	if res != Done {
		t.Fatalf("Feed = %v", res)
	}
	if len(p.Body()) != 0 {
		t.Errorf("Body() = %q, want empty", p.Body())
	}
	if p.Form("anything") != "" {
		t.Error("form populated from empty body")
	}
	if p.Path() != "/submit" {
		t.Errorf("Path() = %q, want unchanged", p.Path())
	}
}

func TestBodyConsumesExactlyContentLength(t *testing.T) {
	p := NewParser(nil)
	b := buffer.New()
	b.AppendString("POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\nhellotrailing")

	if res := p.Feed(b); res != Done {
		t.Fatalf("Feed = %v", res)
	}
	if string(p.Body()) != "hello" {
		t.Errorf("Body() = %q", p.Body())
	}
	if string(b.Peek()) != "trailing" {
		t.Errorf("remaining buffer = %q, want %q", b.Peek(), "trailing")
	}
}

func TestBodyWithEmbeddedCRLF(t *testing.T) {
	body := "a=1\r\nb=2"
	p := NewParser(nil)
	res := feed(t, p, fmt.Sprintf("POST /x HTTP/1.1\r\nContent-Length: %d\r\n\r\n%s", len(body), body))
	if res != Done {
		t.Fatalf("Feed = %v", res)
	}
	if string(p.Body()) != body {
		t.Errorf("Body() = %q, want %q", p.Body(), body)
	}
}

func TestAuthHookLoginRewrite(t *testing.T) {
	cases := []struct {
		name      string
		target    string
		ok        bool
		wantLogin bool
		wantPath  string
	}{
		{"login success", "/login", true, true, "/welcome.html"},
		{"login failure", "/login", false, true, "/error.html"},
		{"register success", "/register", true, false, "/welcome.html"},
		{"register failure", "/register", false, false, "/error.html"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser, gotPwd string
			var gotLogin bool
			hook := func(u, pw string, isLogin bool) bool {
				gotUser, gotPwd, gotLogin = u, pw, isLogin
				return tc.ok
			}
			p := NewParser(hook)
			body := "username=bob&password=hunter2"
			req := fmt.Sprintf("POST %s HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: %d\r\n\r\n%s", tc.target, len(body), body)
			if res := feed(t, p, req); res != Done {
				t.Fatalf("Feed = %v", res)
			}
			if gotUser != "bob" || gotPwd != "hunter2" || gotLogin != tc.wantLogin {
				t.Errorf("hook called with (%q, %q, %v)", gotUser, gotPwd, gotLogin)
			}
			if p.Path() != tc.wantPath {
				t.Errorf("Path() = %q, want %q", p.Path(), tc.wantPath)
			}
			seen, ok := p.AuthResult()
			if !seen || ok != tc.ok {
				t.Errorf("AuthResult() = (%v, %v)", seen, ok)
			}
		})
	}
}

func TestResetForNextRequest(t *testing.T) {
	p := NewParser(nil)
	feed(t, p, "POST /x HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc")

	p.Reset()
	if p.State() != StateRequestLine {
		t.Errorf("State() = %v after Reset", p.State())
	}
	if res := feed(t, p, "GET /next HTTP/1.1\r\n\r\n"); res != Done {
		t.Fatalf("Feed after Reset = %v", res)
	}
	if p.Path() != "/next" || p.Method() != "GET" || len(p.Body()) != 0 {
		t.Errorf("stale state after Reset: %q %q %q", p.Method(), p.Path(), p.Body())
	}
}
