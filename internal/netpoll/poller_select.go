//go:build unisock_select

package netpoll

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/sockerr"
)

// selectPoller is a select(2)-based implementation capped at FD_SETSIZE,
// opted into at build time with -tags unisock_select. It exists for
// platforms or deployments where neither epoll nor kqueue nor a portable
// poll(2) are acceptable, matching the original library's
// conditional-compilation backend selection — a build-time feature flag
// replacing the source's #ifdef chain.
type selectPoller struct {
	mu      sync.Mutex
	records []pollRecord
	index   map[int]int
	epoch   uint16
}

func newPoller() (Poller, error) {
	return &selectPoller{index: make(map[int]int)}, nil
}

func (p *selectPoller) Add(fd int, s Socket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fd >= unix.FD_SETSIZE {
		return sockerr.ErrInvalidFD
	}
	if _, exists := p.index[fd]; exists {
		return nil
	}
	p.index[fd] = len(p.records)
	p.records = append(p.records, pollRecord{fd: fd, sock: s, wantRead: true})
	p.epoch++
	return nil
}

func (p *selectPoller) Remove(fd int) error {
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

func (p *selectPoller) SetWantRead(fd int, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, exists := p.index[fd]
	if !exists {
		return sockerr.ErrInvalidFD
	}
	p.records[i].wantRead = on
	return nil
}

func (p *selectPoller) SetWantWrite(fd int, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, exists := p.index[fd]
	if !exists {
		return sockerr.ErrInvalidFD
	}
	p.records[i].wantWrite = on
	return nil
}

func (p *selectPoller) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records) == 0
}

func (p *selectPoller) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func (p *selectPoller) Epoch() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

func (p *selectPoller) Poll(ctx context.Context, timeoutMS int) error {
	p.mu.Lock()
	snapshot := make([]pollRecord, len(p.records))
	copy(snapshot, p.records)
	p.mu.Unlock()

	var readFDs, writeFDs unix.FdSet
	maxFD := 0
	for _, r := range snapshot {
		if r.wantRead {
			fdSet(&readFDs, r.fd)
		}
		if r.wantWrite {
			fdSet(&writeFDs, r.fd)
		}
		if r.fd > maxFD {
			maxFD = r.fd
		}
	}

	var timeout *unix.Timeval
	if timeoutMS >= 0 {
		tv := unix.NsecToTimeval(int64(timeoutMS) * 1e6)
		timeout = &tv
	}

	n, err := unix.Select(maxFD+1, &readFDs, &writeFDs, nil, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return sockerr.Op("select", err)
	}
	if n == 0 {
		return nil
	}

	startEpoch := p.Epoch()
	for _, r := range snapshot {
		readable := fdIsSet(&readFDs, r.fd)
		writable := fdIsSet(&writeFDs, r.fd)
		if !readable && !writable {
			continue
		}
		if readable {
			if err := r.sock.OnReadable(); err != nil {
				return err
			}
			if p.Epoch() != startEpoch {
				break
			}
		}
		if writable {
			if err := r.sock.OnWritable(); err != nil {
				return err
			}
			if p.Epoch() != startEpoch {
				break
			}
		}
	}
	return nil
}

func (p *selectPoller) Close() error {
	return nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
