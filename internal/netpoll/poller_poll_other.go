//go:build !linux && !darwin && !netbsd && !freebsd && !dragonfly && !openbsd

package netpoll

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/sockerr"
)

// pollPoller is the portable poll(2) array-scan backend used on any unix
// the epoll/kqueue backends don't cover. Grounded on
// includes/events/handlers/poll/poll_impl.hpp's array-walk dispatch,
// replacing its parallel-vectors-kept-in-lockstep layout with one ordered
// slice of records.
type pollPoller struct {
	mu      sync.Mutex
	records []pollRecord
	index   map[int]int // fd -> index in records
	epoch   uint16
}

func newPoller() (Poller, error) {
	return &pollPoller{index: make(map[int]int)}, nil
}

func (p *pollPoller) Add(fd int, s Socket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.index[fd]; exists {
		return nil
	}
	p.index[fd] = len(p.records)
	p.records = append(p.records, pollRecord{fd: fd, sock: s, wantRead: true})
	p.epoch++
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, exists := p.index[fd]
	if !exists {
		return nil
	}
	last := len(p.records) - 1
	p.records[i] = p.records[last]
	p.index[p.records[i].fd] = i
	p.records = p.records[:last]
	delete(p.index, fd)
	p.epoch++
	return nil
}

func (p *pollPoller) SetWantRead(fd int, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, exists := p.index[fd]
	if !exists {
		return sockerr.ErrInvalidFD
	}
	p.records[i].wantRead = on
	return nil
}

func (p *pollPoller) SetWantWrite(fd int, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, exists := p.index[fd]
	if !exists {
		return sockerr.ErrInvalidFD
	}
	p.records[i].wantWrite = on
	return nil
}

func (p *pollPoller) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records) == 0
}

func (p *pollPoller) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func (p *pollPoller) Epoch() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

func (p *pollPoller) Poll(ctx context.Context, timeoutMS int) error {
	p.mu.Lock()
	snapshot := make([]pollRecord, len(p.records))
	copy(snapshot, p.records)
	p.mu.Unlock()

	fds := make([]unix.PollFd, len(snapshot))
	for i, r := range snapshot {
		var events int16
		if r.wantRead {
			events |= unix.POLLIN
		}
		if r.wantWrite {
			events |= unix.POLLOUT
		}
		fds[i] = unix.PollFd{Fd: int32(r.fd), Events: events}
	}

	n, err := unix.Poll(fds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return sockerr.Op("poll", err)
	}

	startEpoch := p.Epoch()
	remaining := n
	for i := range fds {
		if remaining <= 0 {
			break
		}
		if fds[i].Revents == 0 {
			continue
		}
		rec := snapshot[i]

		if fds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			if err := rec.sock.OnReadable(); err != nil {
				return err
			}
			if p.Epoch() != startEpoch {
				break
			}
		}
		if fds[i].Revents&unix.POLLOUT != 0 {
			if err := rec.sock.OnWritable(); err != nil {
				return err
			}
			if p.Epoch() != startEpoch {
				break
			}
		}
		remaining--
	}
	return nil
}

func (p *pollPoller) Close() error {
	return nil
}
