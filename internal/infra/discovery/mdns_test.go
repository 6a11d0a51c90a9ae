package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService(t *testing.T) {
	svc, err := newService("classroom-1", 8080, []net.IP{net.IPv4(192, 168, 1, 20)})

	require.NoError(t, err)
	assert.Equal(t, "classroom-1", svc.Instance)
	assert.Equal(t, ServiceType, svc.Service)
	assert.Equal(t, 8080, svc.Port)
	assert.Equal(t, []string{"path=/ws/room"}, svc.TXT)
}

func TestNilAdvertiserShutdown(t *testing.T) {
	var a *Advertiser
	assert.NoError(t, a.Shutdown())
}
