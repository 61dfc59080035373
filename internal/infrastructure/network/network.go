package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nerrad567/lightlink/internal/infrastructure/config"
)

// dhcpPollInterval is how often interfaces are re-read while waiting for a lease.
const dhcpPollInterval = 250 * time.Millisecond

// Errors returned by Bringup.
var (
	ErrInvalidStaticAddress = errors.New("network: invalid static address")
	ErrNoAddress            = errors.New("network: no address available")
)

// Method records how the address was obtained.
type Method string

// Address acquisition methods.
const (
	MethodDHCP   Method = "dhcp"
	MethodStatic Method = "static"
)

// Lease is the outcome of network bring-up.
type Lease struct {
	Interface string
	Address   net.IP
	Method    Method
}

// Dialer returns a dialer for the broker connection. When bindLocal is
// true the lease address becomes the dialer's local address.
func (l Lease) Dialer(bindLocal bool) *net.Dialer {
	d := &net.Dialer{}
	if bindLocal && l.Address != nil {
		d.LocalAddr = &net.TCPAddr{IP: l.Address}
	}
	return d
}

// Logger is the logging surface used during bring-up.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Interface is the subset of interface state inspected for a lease.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []net.IP
}

// InterfaceLister enumerates host interfaces.
type InterfaceLister func() ([]Interface, error)

// Bringup resolves the address the controller will use.
//
// With DHCP enabled it waits up to cfg.DHCPTimeout for the selected
// interface to hold an IPv4 address assigned by the host's DHCP client.
// If none appears it logs the failure and falls back to the static
// address. Only an unusable static address or a cancelled context is an error.
func Bringup(ctx context.Context, cfg config.NetworkConfig, logger Logger) (Lease, error) {
	return bringup(ctx, cfg, logger, SystemInterfaces, dhcpPollInterval)
}

func bringup(ctx context.Context, cfg config.NetworkConfig, logger Logger, list InterfaceLister, poll time.Duration) (Lease, error) {
	if cfg.DHCP {
		lease, err := waitForDHCP(ctx, cfg, list, poll)
		if err == nil {
			logger.Info("network configured",
				"method", lease.Method,
				"interface", lease.Interface,
				"address", lease.Address.String(),
			)
			return lease, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Lease{}, ctxErr
		}
		logger.Warn("failed to configure network using DHCP", "error", err, "timeout", cfg.DHCPTimeout)
	}

	ip := net.ParseIP(cfg.StaticAddress).To4()
	if ip == nil {
		return Lease{}, fmt.Errorf("%w: %q", ErrInvalidStaticAddress, cfg.StaticAddress)
	}

	lease := Lease{
		Interface: cfg.Interface,
		Address:   ip,
		Method:    MethodStatic,
	}
	logger.Info("network configured",
		"method", lease.Method,
		"interface", lease.Interface,
		"address", lease.Address.String(),
	)
	return lease, nil
}

// waitForDHCP polls until an IPv4 address shows up or the timeout expires.
func waitForDHCP(ctx context.Context, cfg config.NetworkConfig, list InterfaceLister, poll time.Duration) (Lease, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.DHCPTimeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastErr error
	for {
		lease, err := findIPv4(cfg.Interface, list)
		if err == nil {
			return lease, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return Lease{}, lastErr
		case <-ticker.C:
		}
	}
}

// findIPv4 picks the named interface (or the first up, non-loopback one)
// and returns its first IPv4 address.
func findIPv4(name string, list InterfaceLister) (Lease, error) {
	ifaces, err := list()
	if err != nil {
		return Lease{}, fmt.Errorf("listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if name != "" && iface.Name != name {
			continue
		}
		if name == "" && (!iface.Up || iface.Loopback) {
			continue
		}
		if !iface.Up {
			return Lease{}, fmt.Errorf("%w: interface %s is down", ErrNoAddress, iface.Name)
		}
		for _, addr := range iface.Addrs {
			if v4 := addr.To4(); v4 != nil && !v4.IsLinkLocalUnicast() {
				return Lease{Interface: iface.Name, Address: v4, Method: MethodDHCP}, nil
			}
		}
		if name != "" {
			return Lease{}, fmt.Errorf("%w: interface %s has no IPv4 address", ErrNoAddress, name)
		}
	}

	if name != "" {
		return Lease{}, fmt.Errorf("%w: interface %s not found", ErrNoAddress, name)
	}
	return Lease{}, ErrNoAddress
}

// SystemInterfaces reads interfaces from the host.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		entry := Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok {
				entry.Addrs = append(entry.Addrs, ipn.IP)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
