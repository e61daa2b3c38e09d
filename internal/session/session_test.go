package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStore(t *testing.T) {
	s := NewStore(time.Hour)

	_, ok := s.Get("sess-1", "k")
	assert.False(t, ok)

	s.Set("sess-1", "k", "v")
	v, ok := s.Get("sess-1", "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = s.Get("sess-2", "k")
	assert.False(t, ok, "sessions are isolated")

	s.Delete("sess-1", "k")
	_, ok = s.Get("sess-1", "k")
	assert.False(t, ok)

	s.Set("sess-1", "k", "v")
	s.Destroy("sess-1")
	_, ok = s.Get("sess-1", "k")
	assert.False(t, ok)
}

func TestStoreExpiry(t *testing.T) {
	s := NewStore(20 * time.Millisecond)
	s.Set("sess", "k", "v")

	time.Sleep(40 * time.Millisecond)

	_, ok := s.Get("sess", "k")
	assert.False(t, ok)
}

func TestGetDoesNotCreate(t *testing.T) {
	s := NewStore(time.Minute)
	s.Get("ghost", "k")
	assert.Equal(t, 0, s.Len())
}
