package gossip

import (
	"fmt"
	"net"

	"github.com/huin/goupnp/dcps/internetgateway1"
	natpmp "github.com/jackpal/go-nat-pmp"

	"github.com/coinjecture/node/log"
)

// mapPort makes a best-effort attempt to open port in the operator's
// router so peers can reach this node's HTTP surface for inbound polling.
// It tries NAT-PMP first, then UPnP IGD; failure of both is logged at
// Debug and never blocks gossip startup — reachability here is a
// convenience, not a correctness requirement.
func mapPort(port int, logger log.Logger) {
	if ext, err := mapPortNATPMP(port); err == nil {
		logger.Info("mapped port via nat-pmp", "port", port, "external_ip", ext)
		return
	} else {
		logger.Debug("nat-pmp mapping failed", "err", err)
	}

	if err := mapPortUPnP(port); err == nil {
		logger.Info("mapped port via upnp", "port", port)
		return
	} else {
		logger.Debug("upnp mapping failed", "err", err)
	}

	logger.Debug("no port mapping available; relying on manual forwarding or public reachability")
}

func mapPortNATPMP(port int) (net.IP, error) {
	gatewayIP, err := defaultGateway()
	if err != nil {
		return nil, err
	}
	client := natpmp.NewClient(gatewayIP)

	extAddr, err := client.GetExternalAddress()
	if err != nil {
		return nil, fmt.Errorf("gossip: nat-pmp external address: %w", err)
	}

	if _, err := client.AddPortMapping("tcp", port, port, 3600); err != nil {
		return nil, fmt.Errorf("gossip: nat-pmp add mapping: %w", err)
	}
	return net.IPv4(extAddr.ExternalIPAddress[0], extAddr.ExternalIPAddress[1], extAddr.ExternalIPAddress[2], extAddr.ExternalIPAddress[3]), nil
}

// defaultGateway guesses the LAN gateway by taking the first non-loopback
// IPv4 interface address and assuming a .1 host, the same heuristic
// embedded NAT-PMP clients commonly fall back to when no gateway is
// configured explicitly.
func defaultGateway() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		gw := make(net.IP, 4)
		copy(gw, ip4)
		gw[3] = 1
		return gw, nil
	}
	return nil, fmt.Errorf("gossip: no usable network interface found")
}

func mapPortUPnP(port int) error {
	clients, errs, err := internetgateway1.NewWANIPConnection1Clients()
	if err != nil {
		return fmt.Errorf("gossip: upnp discovery: %w", err)
	}
	if len(clients) == 0 {
		if len(errs) > 0 {
			return fmt.Errorf("gossip: upnp discovery found no gateway: %w", errs[0])
		}
		return fmt.Errorf("gossip: upnp discovery found no gateway")
	}

	localIP, err := localIPv4()
	if err != nil {
		return err
	}

	client := clients[0]
	return client.AddPortMapping("", uint16(port), "TCP", uint16(port), localIP.String(), true, "coinjecture-node", 3600)
}

func localIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("gossip: no usable local ipv4 address found")
}
