// Package netif discovers candidate bind addresses from local interfaces and
// watches them for changes.
package netif

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Interface is the subset of net.Interface used for discovery.
type Interface struct {
	Name  string
	Up    bool
	Addrs []net.Addr
}

// Lister enumerates interfaces. Replaced in tests.
type Lister func() ([]Interface, error)

// SystemLister lists the host's interfaces.
func SystemLister() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{
			Name:  ifc.Name,
			Up:    ifc.Flags&net.FlagUp != 0,
			Addrs: addrs,
		})
	}
	return out, nil
}

// Candidates returns the IPv4 addresses of up interfaces whose name starts
// with prefix, in interface order. An empty prefix matches every interface.
func Candidates(prefix string) ([]string, error) {
	return CandidatesFrom(SystemLister, prefix)
}

// CandidatesFrom is Candidates over an arbitrary Lister.
func CandidatesFrom(list Lister, prefix string) ([]string, error) {
	ifaces, err := list()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, ifc := range ifaces {
		if !ifc.Up || !strings.HasPrefix(ifc.Name, prefix) {
			continue
		}
		for _, a := range ifc.Addrs {
			if ip := ipv4(a); ip != nil {
				out = append(out, ip.String())
			}
		}
	}
	return out, nil
}

func ipv4(a net.Addr) net.IP {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return nil
	}
	return ip.To4()
}

// Watcher polls the first candidate address of an interface prefix and
// reports changes.
type Watcher struct {
	Prefix   string
	Interval time.Duration
	List     Lister
	Logger   *slog.Logger

	// OnChange is called with the new address when the first candidate changes.
	// An interface that disappears is reported as "" only once.
	OnChange func(addr string)
}

// Run polls until ctx is done. initial is the address currently in use.
func (w *Watcher) Run(ctx context.Context, initial string) {
	list := w.List
	if list == nil {
		list = SystemLister
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	current := initial
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		addrs, err := CandidatesFrom(list, w.Prefix)
		if err != nil {
			logger.Warn("netif: interface query failed", "error", err)
			continue
		}

		next := ""
		if len(addrs) > 0 {
			next = addrs[0]
		}
		if next == current {
			continue
		}

		logger.Info("netif: address changed", "prefix", w.Prefix, "from", current, "to", next)
		current = next
		if w.OnChange != nil {
			w.OnChange(next)
		}
	}
}
