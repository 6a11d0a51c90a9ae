package discovery

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

// ServiceType 局域网内白板中继的 mDNS 服务类型
const ServiceType = "_whiteboard._tcp"

// Advertiser 在局域网中广播中继地址，教室内的客户端无需手动输入服务器地址
type Advertiser struct {
	server *mdns.Server
}

// Advertise 以主机名为实例名广播 port 端口
func Advertise(port int) (*Advertiser, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}
	service, err := newService(host, port, nil)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	logrus.WithFields(logrus.Fields{"instance": host, "service": ServiceType, "port": port}).Info("mDNS advertisement started")
	return &Advertiser{server: server}, nil
}

func newService(instance string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	service, err := mdns.NewMDNSService(
		instance,
		ServiceType,
		"",
		"",
		port,
		ips,
		[]string{"path=/ws/room"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}

// Shutdown 停止广播
func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}
