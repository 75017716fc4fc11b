package rpcapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMethodNameResolvesKnownPairs(t *testing.T) {
	name, ok := MethodName(IfaceDirectory, MethodRegisterActionServer)
	assert.True(t, ok)
	assert.Equal(t, "Directory.RegisterActionServer", name)

	name, ok = MethodName(IfaceActionServer, MethodStreamAdjacentZoneEntities)
	assert.True(t, ok)
	assert.Equal(t, "ActionServer.StreamAdjacentZoneEntities", name)

	name, ok = MethodName(IfaceSession, MethodCreateSession)
	assert.True(t, ok)
	assert.Equal(t, "Session.CreateSession", name)

	name, ok = MethodName(IfacePresence, MethodListCoordinators)
	assert.True(t, ok)
	assert.Equal(t, "Presence.ListCoordinators", name)
}

func TestMethodNameRejectsUnknownPairs(t *testing.T) {
	_, ok := MethodName(IfaceDirectory, 9999)
	assert.False(t, ok)

	_, ok = MethodName(999, MethodCreateSession)
	assert.False(t, ok)
}

func TestManifestsCoverEveryDeclaredMethodID(t *testing.T) {
	cases := []struct {
		iface, method int32
	}{
		{IfaceDirectory, MethodStreamZoneStatistics},
		{IfaceActionServer, MethodGetServerFps},
		{IfaceActionServer, MethodSubscribe},
		{IfacePresence, MethodRegisterCoordinator},
	}
	for _, c := range cases {
		_, ok := MethodName(c.iface, c.method)
		assert.True(t, ok, "expected a manifest entry for iface=%d method=%d", c.iface, c.method)
	}
}
