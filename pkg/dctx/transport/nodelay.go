package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// disableNagle sets TCP_NODELAY explicitly via the raw file descriptor
// rather than relying solely on (*net.TCPConn).SetNoDelay, so the "Nagle
// disabled on all sockets" requirement (spec.md section 6) has one
// observable, testable code path regardless of which net.Conn
// implementation is in play.
func disableNagle(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
