package broker

import (
	"fmt"

	"github.com/grandcat/zeroconf"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
)

const (
	mqttService     = "_mqtt._tcp"
	defaultInstance = "Gray Logic Z-Wave"
	defaultDomain   = "local."
)

// Advertiser publishes the broker over mDNS so a gateway can find it
// without a configured address.
type Advertiser struct {
	servers []*zeroconf.Server
}

// Advertise registers the plain listener port and, when tlsPort is
// non-zero, the TLS port as "_mqtt._tcp" (plain) and "_secure-mqtt._tcp".
func Advertise(cfg config.AdvertiseConfig, port, tlsPort int) (*Advertiser, error) {
	instance := cfg.Instance
	if instance == "" {
		instance = defaultInstance
	}
	domain := cfg.Domain
	if domain == "" {
		domain = defaultDomain
	}

	a := &Advertiser{}
	srv, err := zeroconf.Register(instance, mqttService, domain, port, []string{"tls=0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", mqttService, err)
	}
	a.servers = append(a.servers, srv)

	if tlsPort != 0 {
		tsrv, err := zeroconf.Register(instance, "_secure-mqtt._tcp", domain, tlsPort, []string{"tls=1"}, nil)
		if err != nil {
			a.Shutdown()
			return nil, fmt.Errorf("registering _secure-mqtt._tcp: %w", err)
		}
		a.servers = append(a.servers, tsrv)
	}
	return a, nil
}

// Shutdown withdraws every registration.
func (a *Advertiser) Shutdown() {
	if a == nil {
		return
	}
	for _, srv := range a.servers {
		srv.Shutdown()
	}
	a.servers = nil
}
