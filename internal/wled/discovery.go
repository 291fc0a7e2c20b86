package wled

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// serviceName is the mDNS service WLED firmware advertises.
const serviceName = "_wled._tcp"

// DiscoveredController is a controller found on the local network.
type DiscoveredController struct {
	Host string
	Port int
	Name string
	MAC  string
}

// Address returns host:port suitable for NewClient.
func (d DiscoveredController) Address() string {
	if d.Port == 0 || d.Port == 80 {
		return d.Host
	}
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Discover browses mDNS for WLED controllers until timeout or ctx is done.
func Discover(ctx context.Context, timeout time.Duration) ([]DiscoveredController, error) {
	var controllers []DiscoveredController
	var mu sync.Mutex
	seen := make(map[string]bool)

	entriesCh := make(chan *mdns.ServiceEntry, 10)
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		for entry := range entriesCh {
			if entry.AddrV4 == nil {
				continue
			}
			c := DiscoveredController{
				Host: entry.AddrV4.String(),
				Port: entry.Port,
				Name: strings.TrimSuffix(strings.TrimSuffix(entry.Name, "."+serviceName+".local."), "."),
			}
			for _, txt := range entry.InfoFields {
				if strings.HasPrefix(txt, "mac=") {
					c.MAC = strings.TrimPrefix(txt, "mac=")
				}
			}

			mu.Lock()
			if !seen[c.Host] {
				seen[c.Host] = true
				controllers = append(controllers, c)
			}
			mu.Unlock()
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	params := mdns.DefaultParams(serviceName)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entriesCh)
	<-collected

	if err != nil {
		return controllers, fmt.Errorf("mDNS query failed: %w", err)
	}
	return controllers, nil
}
