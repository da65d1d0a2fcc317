package socketcontainer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEntity struct {
	fd     int
	closed bool
	hook   func()
}

func (f *fakeEntity) FD() int { return f.fd }
func (f *fakeEntity) Close() (bool, error) {
	if f.closed {
		return false, nil
	}
	f.closed = true
	if f.hook != nil {
		f.hook()
	}
	return true, nil
}

func TestMakeFindLen(t *testing.T) {
	c := New[*fakeEntity](nil)
	e, err := c.Make(func() (*fakeEntity, error) { return &fakeEntity{fd: 7}, nil }, func(s *fakeEntity, onClosed func()) {
		s.hook = onClosed
	})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	found, ok := c.Find(7)
	require.True(t, ok)
	require.Same(t, e, found)
}

func TestMakeDuplicateKeyErrors(t *testing.T) {
	var insertErrs []string
	c := New[*fakeEntity](func(op string, errno int) { insertErrs = append(insertErrs, op) })

	_, err := c.Make(func() (*fakeEntity, error) { return &fakeEntity{fd: 3}, nil }, func(s *fakeEntity, onClosed func()) { s.hook = onClosed })
	require.NoError(t, err)

	_, err = c.Make(func() (*fakeEntity, error) { return &fakeEntity{fd: 3}, nil }, func(s *fakeEntity, onClosed func()) { s.hook = onClosed })
	require.Error(t, err)
	require.Equal(t, []string{"insert"}, insertErrs)
	require.Equal(t, 1, c.Len())
}

func TestCloseErasesFromContainer(t *testing.T) {
	c := New[*fakeEntity](nil)
	e, err := c.Make(func() (*fakeEntity, error) { return &fakeEntity{fd: 9}, nil }, func(s *fakeEntity, onClosed func()) {
		s.hook = onClosed
	})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	_, err = e.Close()
	require.NoError(t, err)
	require.Equal(t, 0, c.Len())

	_, ok := c.Find(9)
	require.False(t, ok)
}

func TestCloseAllDrainsEverything(t *testing.T) {
	c := New[*fakeEntity](nil)
	for i := 0; i < 5; i++ {
		fd := i
		_, err := c.Make(func() (*fakeEntity, error) { return &fakeEntity{fd: fd}, nil }, func(s *fakeEntity, onClosed func()) {
			s.hook = onClosed
		})
		require.NoError(t, err)
	}
	require.Equal(t, 5, c.Len())
	require.NoError(t, c.CloseAll())
	require.Equal(t, 0, c.Len())
}

func TestEachDoesNotDeadlockOnSelfClose(t *testing.T) {
	c := New[*fakeEntity](nil)
	for i := 0; i < 3; i++ {
		fd := i
		_, err := c.Make(func() (*fakeEntity, error) { return &fakeEntity{fd: fd}, nil }, func(s *fakeEntity, onClosed func()) {
			s.hook = onClosed
		})
		require.NoError(t, err)
	}

	c.Each(func(e *fakeEntity) {
		_, _ = e.Close()
	})
	require.Equal(t, 0, c.Len())
}
