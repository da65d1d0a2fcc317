//go:build darwin || netbsd || freebsd || dragonfly || openbsd

package netpoll

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/sockerr"
)

// kqueuePoller is the PollBackend=Kqueue implementation: a BSD-style event
// queue. Grounded on li-ma-gnet/eventloop.go, whose own build tag
// ("+build darwin netbsd freebsd openbsd dragonfly linux") groups exactly
// this OS set with the epoll one; here they're split into two backend
// files, one backend per build tag.
type kqueuePoller struct {
	mu      sync.Mutex
	kq      int
	entries map[int]*kqueueEntry
	epoch   uint16
}

type kqueueEntry struct {
	fd        int
	sock      Socket
	wantRead  bool
	wantWrite bool
}

func newPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, sockerr.Op("kqueue", err)
	}
	return &kqueuePoller{kq: kq, entries: make(map[int]*kqueueEntry)}, nil
}

func (p *kqueuePoller) Add(fd int, s Socket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[fd]; exists {
		return nil
	}
	changes := []unix.Kevent_t{
		kevent(fd, unix.EVFILT_READ, unix.EV_ADD),
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return sockerr.Op("kevent(add)", err)
	}
	p.entries[fd] = &kqueueEntry{fd: fd, sock: s, wantRead: true}
	p.epoch++
	return nil
}

func (p *kqueuePoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, exists := p.entries[fd]
	if !exists {
		return nil
	}
	var changes []unix.Kevent_t
	if e.wantRead {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if e.wantWrite {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	if len(changes) > 0 {
		_, _ = unix.Kevent(p.kq, changes, nil, nil)
	}
	delete(p.entries, fd)
	p.epoch++
	return nil
}

func (p *kqueuePoller) SetWantRead(fd int, on bool) error {
	return p.setWant(fd, unix.EVFILT_READ, on)
}

func (p *kqueuePoller) SetWantWrite(fd int, on bool) error {
	return p.setWant(fd, unix.EVFILT_WRITE, on)
}

func (p *kqueuePoller) setWant(fd int, filter int16, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, exists := p.entries[fd]
	if !exists {
		return sockerr.ErrInvalidFD
	}
	flag := uint16(unix.EV_DELETE)
	if on {
		flag = unix.EV_ADD
	}
	if filter == unix.EVFILT_WRITE {
		if on == e.wantWrite {
			return nil
		}
		e.wantWrite = on
	} else {
		if on == e.wantRead {
			return nil
		}
		e.wantRead = on
	}
	changes := []unix.Kevent_t{kevent(fd, filter, flag)}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err != nil {
		return sockerr.Op("kevent(mod)", err)
	}
	return nil
}

func (p *kqueuePoller) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) == 0
}

func (p *kqueuePoller) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *kqueuePoller) Epoch() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

func (p *kqueuePoller) Poll(ctx context.Context, timeoutMS int) error {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMS) * 1e6)
		ts = &t
	}

	var raw [128]unix.Kevent_t
	n, err := unix.Kevent(p.kq, nil, raw[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return sockerr.Op("kevent(wait)", err)
	}

	startEpoch := p.Epoch()
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)

		p.mu.Lock()
		e, ok := p.entries[fd]
		p.mu.Unlock()
		if !ok {
			continue
		}

		if raw[i].Filter == unix.EVFILT_READ {
			if err := e.sock.OnReadable(); err != nil {
				return err
			}
			if p.Epoch() != startEpoch {
				break
			}
		} else if raw[i].Filter == unix.EVFILT_WRITE {
			if err := e.sock.OnWritable(); err != nil {
				return err
			}
			if p.Epoch() != startEpoch {
				break
			}
		}
	}
	return nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}

func kevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
}
