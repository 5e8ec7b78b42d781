/*
Package discovery advertises sync servers on the local network over mDNS and finds them.

A server registers one _collabsync._tcp instance per node. The TXT record carries its node id
and the WebSocket path, so a client can build the endpoint without further configuration.
*/
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"collabsync/internal/pkg/logx"
)

const (
	// ServiceType is the DNS-SD service type of sync servers.
	ServiceType = "_collabsync._tcp"

	Domain = "local."

	// DefaultBrowseTimeout bounds Browse when the context has no deadline.
	DefaultBrowseTimeout = 3 * time.Second

	protocolVersion = "1"
)

// Service is one discovered sync server.
type Service struct {
	Instance string
	Host     string
	Port     int
	Addrs    []net.IP
	NodeID   string
	Path     string
}

// Endpoint returns the WebSocket URL of the service, preferring IPv4 addresses.
func (s Service) Endpoint() string {
	host := s.Host
	if len(s.Addrs) > 0 {
		host = s.Addrs[0].String()
	}
	path := s.Path
	if path == "" {
		path = "/ws"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(strings.TrimSuffix(host, "."), strconv.Itoa(s.Port)), path)
}

// Advertisement is a registered mDNS service; Shutdown withdraws it.
type Advertisement struct {
	server *zeroconf.Server
}

func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Advertise registers this node under ServiceType. An empty instance defaults to
// "collabsync-<hostname>".
func Advertise(instance string, port int, nodeID, path string) (*Advertisement, error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("collabsync-%s", host)
	}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txtRecord(nodeID, path), nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register mDNS service: %w", err)
	}

	logx.Info("mDNS service registered", "instance", instance, "service", ServiceType, "port", port)
	return &Advertisement{server: server}, nil
}

func txtRecord(nodeID, path string) []string {
	return []string{"txtv=" + protocolVersion, "node=" + nodeID, "path=" + path}
}

// parseTXT reads the key=value pairs of a TXT record; later keys win.
func parseTXT(txt []string) map[string]string {
	out := make(map[string]string, len(txt))
	for _, kv := range txt {
		k, v, _ := strings.Cut(kv, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

func fromEntry(e *zeroconf.ServiceEntry) Service {
	txt := parseTXT(e.Text)
	addrs := append(slices.Clone(e.AddrIPv4), e.AddrIPv6...)
	return Service{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		Addrs:    addrs,
		NodeID:   txt["node"],
		Path:     txt["path"],
	}
}

// Browse collects the services that answer until ctx is done or DefaultBrowseTimeout passes.
// Instances are returned sorted by name.
func Browse(ctx context.Context) ([]Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: init mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Service)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for e := range entries {
			found[e.Instance] = fromEntry(e)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}
	<-ctx.Done()
	<-collected

	services := make([]Service, 0, len(found))
	for _, s := range found {
		services = append(services, s)
	}
	slices.SortFunc(services, func(a, b Service) int { return strings.Compare(a.Instance, b.Instance) })
	return services, nil
}
