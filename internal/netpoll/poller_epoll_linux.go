//go:build linux

package netpoll

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/sockerr"
)

// epollPoller is the PollBackend=Epoll implementation: an edge-reporting
// readiness list backed by epoll_wait(2). Grounded on li-ma-gnet's use of
// golang.org/x/sys/unix for the equivalent kqueue/epoll split in
// eventloop.go, generalized here into one record-per-fd instead of
// parallel slices.
type epollPoller struct {
	mu      sync.Mutex
	epfd    int
	entries map[int]*epollEntry
	epoch   uint16
}

type epollEntry struct {
	fd     int
	sock   Socket
	events uint32
}

func newPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, sockerr.Op("epoll_create1", err)
	}
	return &epollPoller{epfd: epfd, entries: make(map[int]*epollEntry)}, nil
}

func (p *epollPoller) Add(fd int, s Socket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[fd]; exists {
		return nil
	}
	ev := &epollEntry{fd: fd, sock: s, events: unix.EPOLLIN}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: ev.events, Fd: int32(fd)}); err != nil {
		return sockerr.Op("epoll_ctl(add)", err)
	}
	p.entries[fd] = ev
	p.epoch++
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[fd]; !exists {
		return nil
	}
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(p.entries, fd)
	p.epoch++
	return nil
}

func (p *epollPoller) SetWantRead(fd int, on bool) error {
	return p.setWant(fd, unix.EPOLLIN, on)
}

func (p *epollPoller) SetWantWrite(fd int, on bool) error {
	return p.setWant(fd, unix.EPOLLOUT, on)
}

func (p *epollPoller) setWant(fd int, bit uint32, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, exists := p.entries[fd]
	if !exists {
		return sockerr.ErrInvalidFD
	}
	if on {
		ev.events |= bit
	} else {
		ev.events &^= bit
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: ev.events, Fd: int32(fd)})
}

func (p *epollPoller) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) == 0
}

func (p *epollPoller) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *epollPoller) Epoch() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

func (p *epollPoller) Poll(ctx context.Context, timeoutMS int) error {
	var raw [128]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, raw[:], timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return sockerr.Op("epoll_wait", err)
	}

	startEpoch := p.Epoch()
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)

		p.mu.Lock()
		ev, ok := p.entries[fd]
		p.mu.Unlock()
		if !ok {
			continue
		}

		if raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			if err := ev.sock.OnReadable(); err != nil {
				return err
			}
			if p.Epoch() != startEpoch {
				break
			}
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			if err := ev.sock.OnWritable(); err != nil {
				return err
			}
			if p.Epoch() != startEpoch {
				break
			}
		}
	}
	return nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
