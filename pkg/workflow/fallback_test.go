package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicoder/pkg/contract"
	"aicoder/pkg/registry"
	"aicoder/pkg/state"
)

type unregisteredFallback struct {
	*registry.Registry
}

func (u unregisteredFallback) Has(name string) bool {
	return name != "ghost" && u.Registry.Has(name)
}

func fallbackRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	log := &callLog{}
	reg := registry.New()
	for _, c := range []contract.Contract{
		withFallback(ct("coder", 1), "toolbox"),
		withFallback(ct("toolbox", 1), "coder"),
		ct("planner", 1),
	} {
		require.NoError(t, reg.Register(c, succeed(c.Name, log)))
	}
	require.NoError(t, reg.Finalize())
	return reg
}

func TestFallbackRouterAcceptsFirstReroute(t *testing.T) {
	router := NewFallbackRouter(fallbackRegistry(t), "coder")
	router.now = fixedClock
	st := viewWith(nil)

	next, st, ok := router.Route("coder", st)
	require.True(t, ok)
	assert.Equal(t, "toolbox", next)
	require.Len(t, st.Routes(), 1)
	assert.Equal(t, state.RoutingRecord{
		From: "coder", To: "toolbox", Reason: "coder exhausted its retries", Accepted: true, Timestamp: testNow,
	}, st.Routes()[0])
}

func TestFallbackRouterRejectsAttempted(t *testing.T) {
	router := NewFallbackRouter(fallbackRegistry(t), "coder")
	router.MarkAttempted("toolbox")

	next, st, ok := router.Route("toolbox", viewWith(nil))
	assert.False(t, ok)
	assert.Empty(t, next)
	require.Len(t, st.Routes(), 1)
	assert.False(t, st.Routes()[0].Accepted)
	assert.Contains(t, st.Routes()[0].Reason, "already attempted")
	assert.Equal(t, []string{"coder", "toolbox"}, router.Attempted())
}

func TestFallbackRouterWithoutFallback(t *testing.T) {
	router := NewFallbackRouter(fallbackRegistry(t))

	_, st, ok := router.Route("planner", viewWith(nil))
	assert.False(t, ok)
	assert.Empty(t, st.Routes(), "no reroute decision without a configured fallback")
}

func TestFallbackRouterRejectsUnregistered(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(withFallback(ct("coder", 1), "ghost"), succeed("coder", &callLog{})))
	require.NoError(t, reg.Register(ct("ghost", 1), succeed("ghost", &callLog{})))
	require.NoError(t, reg.Finalize())

	router := NewFallbackRouter(unregisteredFallback{reg})
	_, st, ok := router.Route("coder", viewWith(nil))
	assert.False(t, ok)
	require.Len(t, st.Routes(), 1)
	assert.Contains(t, st.Routes()[0].Reason, "not registered")
}
