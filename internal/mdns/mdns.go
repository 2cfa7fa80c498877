// Package mdns finds iiod servers advertised over multicast DNS.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const iiodService = "_iio._tcp"

// Host is a discovered iiod endpoint.
type Host struct {
	Instance  string // advertised name, e.g. "iiod on pluto"
	Hostname  string // e.g. "pluto.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Addr returns a dialable host:port, preferring IPv4.
func (h Host) Addr() string {
	host := strings.TrimSuffix(h.Hostname, ".")
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(h.Addresses) > 0 {
		host = h.Addresses[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(h.Port))
}

// DiscoverIIOD browses for iiod services until timeout or ctx expires and
// returns deduplicated hosts sorted by instance name.
func DiscoverIIOD(ctx context.Context, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Host)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if h, ok := hostFromEntry(e); ok {
					found[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, iiodService, "local.", entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", iiodService, err)
	}
	<-done

	out := make([]Host, 0, len(found))
	for _, h := range found {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

func hostFromEntry(e *zeroconf.ServiceEntry) (Host, bool) {
	if e == nil {
		return Host{}, false
	}
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string(nil), e.Text...),
	}, true
}

// cleanInstance removes zeroconf escapes: `\ ` becomes a space.
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
