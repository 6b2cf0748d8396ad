package netdetect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/georgelake2/plcaudit/internal/logging"
)

// InterfaceInfo represents a network interface with its properties.
type InterfaceInfo struct {
	Name       string   // System interface name (e.g., "eth0", "en0")
	Addresses  []string // IP addresses assigned to this interface
	IsUp       bool
	IsLoopback bool
}

// ListInterfaces returns the host's network interfaces.
func ListInterfaces() ([]InterfaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}
	interfaces := make([]InterfaceInfo, 0, len(ifaces))
	for _, iface := range ifaces {
		info := InterfaceInfo{
			Name:       iface.Name,
			IsUp:       iface.Flags&net.FlagUp != 0,
			IsLoopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				if ip := addrIP(addr); ip != nil {
					info.Addresses = append(info.Addresses, ip.String())
				}
			}
		}
		interfaces = append(interfaces, info)
	}
	return interfaces, nil
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPNet:
		return a.IP
	case *net.IPAddr:
		return a.IP
	}
	return nil
}

// GetInterfaceAddressString returns a comma-separated list of interface addresses.
func GetInterfaceAddressString(info InterfaceInfo) string {
	if len(info.Addresses) == 0 {
		return "no addresses"
	}
	result := info.Addresses[0]
	for i := 1; i < len(info.Addresses) && i < 3; i++ {
		result += ", " + info.Addresses[i]
	}
	if len(info.Addresses) > 3 {
		result += fmt.Sprintf(" (+%d more)", len(info.Addresses)-3)
	}
	return result
}

// Route is the local side of the path to a target.
type Route struct {
	Interface string
	LocalIP   net.IP
}

// ErrNoRoute is returned when the host has no usable path to the target.
var ErrNoRoute = errors.New("no route to target")

// RouteTo asks the kernel which source address it would use to reach
// target. A UDP "connect" selects the route without sending anything.
func RouteTo(target string) (Route, error) {
	ip := net.ParseIP(target)
	if ip == nil {
		addrs, err := net.LookupIP(target)
		if err != nil || len(addrs) == 0 {
			return Route{}, fmt.Errorf("resolve %s: %w", target, ErrNoRoute)
		}
		ip = addrs[0]
	}
	conn, err := net.Dial("udp", net.JoinHostPort(ip.String(), "44818"))
	if err != nil {
		return Route{}, fmt.Errorf("%s: %w: %v", target, ErrNoRoute, err)
	}
	defer conn.Close()
	local := conn.LocalAddr().(*net.UDPAddr).IP

	interfaces, err := ListInterfaces()
	if err != nil {
		return Route{LocalIP: local}, nil
	}
	for _, iface := range interfaces {
		for _, addr := range iface.Addresses {
			if addr == local.String() {
				if !iface.IsUp {
					return Route{}, fmt.Errorf("interface %s is down: %w", iface.Name, ErrNoRoute)
				}
				return Route{Interface: iface.Name, LocalIP: local}, nil
			}
		}
	}
	return Route{LocalIP: local}, nil
}

// WaitForNetwork polls until target is routable or ctx is done. A
// timeout of zero waits indefinitely.
func WaitForNetwork(ctx context.Context, target string, timeout time.Duration, logger *logging.Logger) (Route, error) {
	return waitFor(ctx, target, timeout, 500*time.Millisecond, RouteTo, logger)
}

func waitFor(ctx context.Context, target string, timeout, interval time.Duration, probe func(string) (Route, error), logger *logging.Logger) (Route, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		route, err := probe(target)
		if err == nil {
			logger.Info("Network ready: %s via %s (%s)", target, route.Interface, route.LocalIP)
			return route, nil
		}
		if attempt == 1 {
			logger.Info("Waiting for network route to %s...", target)
		}
		logger.Debug("Route probe %d: %v", attempt, err)
		select {
		case <-ctx.Done():
			return Route{}, fmt.Errorf("wait for network: %w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}
