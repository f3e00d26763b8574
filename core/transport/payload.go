package transport

import "golang.org/x/sys/unix"

// Payload is the unit of data handed to an asynchronous write: either an
// in-memory byte range or a zero-copy file range sent via sendfile(2). A
// partially-written Payload is shifted in place by writeOnce, so the struct
// stored in a PendingWrite always reflects exactly what remains to be sent.
type Payload struct {
	bytes []byte

	isFile        bool
	fileFD        int
	fileOffset    int64
	fileRemaining int

	sent int
}

// BytesPayload wraps an in-memory buffer for writing. The caller must not
// touch b again after handing it to a write call.
func BytesPayload(b []byte) Payload {
	return Payload{bytes: b}
}

// FilePayload describes a zero-copy transfer of length bytes from fd
// starting at offset, sent with sendfile(2) as the peer's socket drains.
func FilePayload(fd int, offset int64, length int) Payload {
	return Payload{isFile: true, fileFD: fd, fileOffset: offset, fileRemaining: length}
}

// Len reports the number of bytes still unsent.
func (p *Payload) Len() int {
	if p.isFile {
		return p.fileRemaining
	}
	return len(p.bytes)
}

// writeOnce attempts a single send or sendfile call, advancing the payload
// by however many bytes the kernel accepted.
func (p *Payload) writeOnce(fd int, flags int) (int, error) {
	if p.isFile {
		n, err := unix.Sendfile(fd, p.fileFD, &p.fileOffset, p.fileRemaining)
		if err == nil {
			p.fileRemaining -= n
			p.sent += n
		}
		return n, err
	}
	n, err := unix.SendmsgN(fd, p.bytes, nil, nil, flags)
	if err == nil {
		p.bytes = p.bytes[n:]
		p.sent += n
	}
	return n, err
}
