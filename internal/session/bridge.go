package session

import "github.com/jmylchreest/hlsrelay/internal/source"

// readSeeker adapts a source.Reader's Whence-typed Seek to the stdlib
// io.Seeker contract codecadapter.Adapter expects. The codec library's
// pull-style I/O context wants ordinary io.ReadSeeker semantics; the
// bridging work is exactly this method-signature translation, since
// source.Reader already provides a synchronous, non-busy-waiting pull
// contract on the other side.
type readSeeker struct {
	r source.Reader
}

func asReadSeeker(r source.Reader) *readSeeker {
	return &readSeeker{r: r}
}

func (rs *readSeeker) Read(buf []byte) (int, error) {
	return rs.r.Read(buf)
}

// Seek implements io.Seeker. whence follows the stdlib io.SeekStart(0)/
// io.SeekCurrent(1)/io.SeekEnd(2) convention, which source.Whence's
// Absolute/Relative/FromEnd constants are numbered to match exactly.
func (rs *readSeeker) Seek(offset int64, whence int) (int64, error) {
	return rs.r.Seek(offset, source.Whence(whence))
}
