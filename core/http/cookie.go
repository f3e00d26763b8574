package http

import "strconv"

// Cookie is a single Set-Cookie directive. Only the attributes the example
// end-to-end scenarios exercise are modeled; there is no cookie-jar
// persistence on the server side, just serialization of outgoing cookies.
type Cookie struct {
	Name     string
	Value    string
	Path     string
	MaxAge   int // seconds; 0 means omit the attribute
	HTTPOnly bool
	Secure   bool
}

// jar accumulates outgoing cookies for one response.
type jar struct {
	cookies []Cookie
}

// Add appends a cookie to be sent as a Set-Cookie header.
func (j *jar) Add(c Cookie) {
	j.cookies = append(j.cookies, c)
}

func (j *jar) reset() {
	j.cookies = j.cookies[:0]
}

// appendHeaders writes one Set-Cookie line per jar entry into buf.
func (j *jar) appendHeaders(buf []byte) []byte {
	for _, c := range j.cookies {
		buf = append(buf, "Set-Cookie: "...)
		buf = append(buf, c.Name...)
		buf = append(buf, '=')
		buf = append(buf, c.Value...)
		if c.Path != "" {
			buf = append(buf, "; Path="...)
			buf = append(buf, c.Path...)
		}
		if c.MaxAge != 0 {
			buf = append(buf, "; Max-Age="...)
			buf = append(buf, strconv.Itoa(c.MaxAge)...)
		}
		if c.HTTPOnly {
			buf = append(buf, "; HttpOnly"...)
		}
		if c.Secure {
			buf = append(buf, "; Secure"...)
		}
		buf = append(buf, "\r\n"...)
	}
	return buf
}
