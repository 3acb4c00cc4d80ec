package ratelimit

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToQuota(t *testing.T) {
	l := New(10, time.Second)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Check(), "request %d should be accepted", i+1)
	}
	err := l.Check()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Rate limit"))
}

func TestLimiterResetsAfterWindow(t *testing.T) {
	l := New(1, 20*time.Millisecond)
	require.NoError(t, l.Check())
	require.Error(t, l.Check())
	time.Sleep(30 * time.Millisecond)
	assert.NoError(t, l.Check(), "window should have reset")
}

func TestLimiterClampsQuota(t *testing.T) {
	l := New(0, time.Second)
	assert.GreaterOrEqual(t, l.Quota(), uint32(1))

	l2 := New(10_000_000, time.Second)
	assert.LessOrEqual(t, l2.Quota(), uint32(100000))
}

func TestRegistryThrottlesPeerOverQuota(t *testing.T) {
	r := NewRegistry(1, time.Second)
	require.NoError(t, r.Check("peer-a"))
	require.Error(t, r.Check("peer-a"), "peer-a should be throttled")
}

func TestRegistryGlobalAppliesAcrossPeers(t *testing.T) {
	r := NewRegistry(100, time.Second)
	r.global.SetQuota(1)
	require.NoError(t, r.Check("peer-a"))
	err := r.Check("peer-b")
	require.Error(t, err, "global limiter should throttle across peers")
}
