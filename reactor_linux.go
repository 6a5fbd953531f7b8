//go:build linux

package loom

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// epollSocket is a rawSocket backed by a non-blocking file descriptor,
// used on Linux where the reactor drives a real epoll selector.
type epollSocket struct {
	fd int
}

func (s *epollSocket) read(buf []byte) (int, bool, error) {
	n, err := unix.Read(s.fd, buf)
	if err == nil {
		if n == 0 {
			return 0, false, io.EOF
		}
		return n, false, nil
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return 0, true, nil
	}
	return 0, false, err
}

func (s *epollSocket) write(buf []byte) (int, bool, error) {
	n, err := unix.Write(s.fd, buf)
	if err == nil {
		return n, false, nil
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return 0, true, nil
	}
	return 0, false, err
}

func (s *epollSocket) close() error {
	return unix.Close(s.fd)
}

// newRawSocket extracts the raw fd from an accepted net.Conn and switches
// it to non-blocking mode.
func newRawSocket(conn net.Conn) (rawSocket, error) {
	sc, ok := conn.(syscall_Conn)
	if !ok {
		return nil, errors.New("loom: connection does not support raw fd access")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var dupFD int
	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		dupFD, ctrlErr = unix.Dup(int(fd))
	})
	if err != nil {
		return nil, err
	}
	if ctrlErr != nil {
		return nil, ctrlErr
	}
	if err := unix.SetNonblock(dupFD, true); err != nil {
		unix.Close(dupFD)
		return nil, err
	}
	// The duplicated fd now owns the underlying socket independently of
	// conn; closing conn here does not affect it.
	_ = conn.Close()
	return &epollSocket{fd: dupFD}, nil
}

// syscall_Conn mirrors syscall.Conn; *net.TCPConn and the other net.Conn
// implementations backed by a file descriptor satisfy it.
type syscall_Conn interface {
	SyscallConn() (syscall.RawConn, error)
}

type rawConn interface {
	Control(f func(fd uintptr)) error
}

// epollSelector implements selector using a single epoll instance, polled
// exclusively from the reactor goroutine.
type epollSelector struct {
	epfd     int
	registry map[int]*Connection
	events   []unix.EpollEvent
}

func newSelector() (selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollSelector{
		epfd:     epfd,
		registry: make(map[int]*Connection),
		events:   make([]unix.EpollEvent, 256),
	}, nil
}

func (s *epollSelector) fdOf(c *Connection) int {
	return c.sock.(*epollSocket).fd
}

func (s *epollSelector) add(c *Connection) error {
	fd := s.fdOf(c)
	s.registry[fd] = c
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (s *epollSelector) setWritable(c *Connection, want bool) error {
	fd := s.fdOf(c)
	events := uint32(unix.EPOLLIN)
	if want {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (s *epollSelector) remove(c *Connection) error {
	fd := s.fdOf(c)
	delete(s.registry, fd)
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (s *epollSelector) poll(timeout time.Duration, cb func(c *Connection, readable, writable bool)) error {
	n, err := unix.EpollWait(s.epfd, s.events, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		ev := s.events[i]
		c, ok := s.registry[int(ev.Fd)]
		if !ok {
			continue
		}
		readable := ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
		writable := ev.Events&unix.EPOLLOUT != 0
		cb(c, readable, writable)
	}
	return nil
}

func (s *epollSelector) close() error {
	return unix.Close(s.epfd)
}
