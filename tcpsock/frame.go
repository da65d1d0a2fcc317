package tcpsock

import (
	"bytes"
	"encoding/binary"
	"net"
	"time"

	"github.com/smallnest/goframe"
)

// frameBufConn adapts an in-memory byte buffer pair into the net.Conn
// shape goframe.NewLengthFieldBasedFrameConn expects, so FrameCodec can
// reuse goframe's length-field encode/decode logic without a live socket
// underneath it — framing happens purely at the byte level, independent
// of the reactor's own non-blocking Recv/Send.
type frameBufConn struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func (c *frameBufConn) Read(p []byte) (int, error)       { return c.in.Read(p) }
func (c *frameBufConn) Write(p []byte) (int, error)      { return c.out.Write(p) }
func (c *frameBufConn) Close() error                     { return nil }
func (c *frameBufConn) LocalAddr() net.Addr              { return frameAddr{} }
func (c *frameBufConn) RemoteAddr() net.Addr             { return frameAddr{} }
func (c *frameBufConn) SetDeadline(time.Time) error      { return nil }
func (c *frameBufConn) SetReadDeadline(time.Time) error  { return nil }
func (c *frameBufConn) SetWriteDeadline(time.Time) error { return nil }

type frameAddr struct{}

func (frameAddr) Network() string { return "buf" }
func (frameAddr) String() string  { return "buf" }

// FrameCodec turns outbound payloads into goframe length-field-prefixed
// wire frames, and incrementally decodes inbound RECV byte chunks back
// into payloads. Opt-in: callers construct one with NewFrameCodec and
// pass payloads through Encode/Feed themselves; raw byte semantics (no
// framing) remain the default for Connection.
//
// Grounded on the li-ma-gnet/panjf2000-gnet lineage, which carries
// goframe as a framing dependency for exactly this length-field-prefixed
// protocol shape.
type FrameCodec struct {
	encCfg goframe.EncoderConfig
	decCfg goframe.DecoderConfig
	inbuf  bytes.Buffer
}

// NewFrameCodec constructs a FrameCodec using a 4-byte big-endian
// length-prefixed wire format, matching goframe's LengthFieldBasedFrame
// defaults.
func NewFrameCodec() *FrameCodec {
	return &FrameCodec{
		encCfg: goframe.EncoderConfig{
			ByteOrder:                       binary.BigEndian,
			LengthFieldLength:               4,
			LengthAdjustment:                0,
			LengthIncludesLengthFieldLength: false,
		},
		decCfg: goframe.DecoderConfig{
			ByteOrder:           binary.BigEndian,
			LengthFieldOffset:   0,
			LengthFieldLength:   4,
			LengthAdjustment:    0,
			InitialBytesToStrip: 4,
		},
	}
}

// Encode wraps payload in one length-prefixed frame ready to Send.
func (f *FrameCodec) Encode(payload []byte) ([]byte, error) {
	var out bytes.Buffer
	conn := goframe.NewLengthFieldBasedFrameConn(f.encCfg, f.decCfg, &frameBufConn{in: new(bytes.Buffer), out: &out})
	if err := conn.WriteFrame(payload); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Feed appends freshly received wire bytes and returns every complete
// frame now decodable, retaining any partial trailing frame internally
// for the next call — the non-blocking counterpart to goframe's own
// FrameConn.ReadFrame, which assumes a blocking io.Reader this reactor
// cannot offer.
func (f *FrameCodec) Feed(b []byte) [][]byte {
	f.inbuf.Write(b)
	var frames [][]byte
	for {
		snapshot := bytes.NewBuffer(append([]byte(nil), f.inbuf.Bytes()...))
		conn := goframe.NewLengthFieldBasedFrameConn(f.encCfg, f.decCfg, &frameBufConn{in: snapshot, out: new(bytes.Buffer)})
		frame, err := conn.ReadFrame()
		if err != nil {
			break
		}
		consumed := f.inbuf.Len() - snapshot.Len()
		f.inbuf.Next(consumed)
		frames = append(frames, frame)
	}
	return frames
}
