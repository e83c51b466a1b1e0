package taurus

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// GetAvailPort asks the OS for an unused TCP port.
// There's a race here, where the port could be grabbed by someone else
// before the caller gets to Listen on it, but in practice such races
// are rare. Uses net.Listen("tcp", ":0") to determine a free port, then
// releases it back to the OS with Listener.Close().
func GetAvailPort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	panicOn(err)
	r := l.Addr()
	l.Close()
	return r.(*net.TCPAddr).Port
}

// GetAvailUDPPort is GetAvailPort for the QUIC backend.
func GetAvailUDPPort() int {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	panicOn(err)
	r := pc.LocalAddr()
	pc.Close()
	return r.(*net.UDPAddr).Port
}

// splitEndpoint reduces `tcp://host:port` to ("tcp", "host:port").
// An address without a scheme gets network "".
func splitEndpoint(address string) (network, hostport string) {
	parts := strings.SplitN(address, "://", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", address
}

// formatEndpoint gives the Peer.Endpoint form, "udp://1.2.3.4:5".
func formatEndpoint(network string, addr net.Addr) string {
	if addr == nil {
		return network + "://"
	}
	return network + "://" + addr.String()
}

// ValidateAddr checks that addr, with or without a
// scheme prefix, names a host and a non-zero port, and
// that a scheme, when given, is wantNetwork.
func ValidateAddr(addr, wantNetwork string) (hostport string, err error) {
	network, hostport := splitEndpoint(addr)
	if network != "" && network != wantNetwork {
		return "", fmt.Errorf("%w: address '%v' has scheme '%v', want '%v'", ErrConfig, addr, network, wantNetwork)
	}
	_, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("%w: bad address '%v': %v", ErrConfig, addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return "", fmt.Errorf("%w: address '%v' needs a port in 1-65535", ErrConfig, addr)
	}
	return hostport, nil
}

// IsLocalhost reports whether ipStr (optionally with a
// port) is a loopback address.
func IsLocalhost(ipStr string) (isLocal bool, hostOnlyNoPort string) {
	host, _, err := net.SplitHostPort(ipStr)
	if err == nil {
		ipStr = host
	}
	hostOnlyNoPort = ipStr
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false, hostOnlyNoPort
	}
	isLocal = ip.IsLoopback()
	return
}
