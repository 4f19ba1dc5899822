package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ccgateway/cloudcode-gateway/internal/config"
	"github.com/ccgateway/cloudcode-gateway/internal/identity"
)

func TestMaxIdleConns_FloorsAtSixteen(t *testing.T) {
	require.Equal(t, 16, maxIdleConns(0))
	require.Equal(t, 16, maxIdleConns(2))
}

func TestMaxIdleConns_ScalesWithIdentityCount(t *testing.T) {
	require.Equal(t, 40, maxIdleConns(10))
}

func TestProxyURL_EmptyWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.UpstreamProxy = config.UpstreamProxy{Enabled: false, URL: "http://proxy:8080"}
	require.Equal(t, "", proxyURL(cfg))
}

func TestProxyURL_ReturnsURLWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.UpstreamProxy = config.UpstreamProxy{Enabled: true, URL: "http://proxy:8080"}
	require.Equal(t, "http://proxy:8080", proxyURL(cfg))
}

func TestIsAddrInUse(t *testing.T) {
	require.False(t, isAddrInUse(nil))
	require.True(t, isAddrInUse(errors.New("listen tcp :8045: bind: address already in use")))
	require.False(t, isAddrInUse(errors.New("some other failure")))
}

func TestReportPoolGauges_DoesNotPanicOnMixedPool(t *testing.T) {
	pool := identity.NewPool()
	active := identity.NewIdentity("id-1", "a@example.com", "r1")
	disabled := identity.NewIdentity("id-2", "b@example.com", "r2")
	disabled.Disable()
	pool.Add(active)
	pool.Add(disabled)

	require.NotPanics(t, func() { reportPoolGauges(pool) })
}
