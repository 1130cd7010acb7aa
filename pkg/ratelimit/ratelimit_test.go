package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

var errDown = errors.New("upstream down")
var errBiz = errors.New("bad request")

func TestManager_TripsOnConsecutiveFailures(t *testing.T) {
	m := NewManager("test", Rule{TripConsecutiveFailures: 3, Timeout: time.Minute}, nil, func(err error) bool {
		return err == nil || errors.Is(err, errBiz)
	})

	// 业务错误不计入熔断
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, m.Do("status", func() error { return errBiz }), errBiz)
	}
	assert.Equal(t, gobreaker.StateClosed, m.Get("status").State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, m.Do("status", func() error { return errDown }), errDown)
	}
	assert.Equal(t, gobreaker.StateOpen, m.Get("status").State())

	called := false
	err := m.Do("status", func() error { called = true; return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called, "熔断打开后不应再调用下游")

	// 其他 method 互不影响
	assert.NoError(t, m.Do("rates", func() error { return nil }))
}

func TestStore_AllowAndCleanup(t *testing.T) {
	s := NewStore(1, 2, time.Minute)
	assert.True(t, s.Allow("a"))
	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("a"), "突发用完")
	assert.True(t, s.Allow("b"))
	assert.Equal(t, 2, s.Len())

	s.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, s.Len())
}
