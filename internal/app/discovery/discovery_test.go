package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestTXTRoundTrip(t *testing.T) {
	txt := parseTXT(txtRecord("node-a", "/ws"))
	if txt["node"] != "node-a" || txt["path"] != "/ws" || txt["txtv"] != "1" {
		t.Fatalf("txt = %v", txt)
	}
	if got := parseTXT([]string{"flag", "=x", "a=1=2"}); got["flag"] != "" || got["a"] != "1=2" || len(got) != 2 {
		t.Fatalf("odd txt = %v", got)
	}
}

func TestServiceFromEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry("collabsync-box", ServiceType, Domain)
	e.HostName = "box.local."
	e.Port = 8080
	e.Text = txtRecord("node-a", "/ws")
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}

	s := fromEntry(e)
	if s.NodeID != "node-a" || s.Instance != "collabsync-box" {
		t.Fatalf("service = %+v", s)
	}
	if got := s.Endpoint(); got != "ws://192.168.1.20:8080/ws" {
		t.Fatalf("endpoint = %s", got)
	}

	s.Addrs = nil
	s.Path = ""
	if got := s.Endpoint(); got != "ws://box.local:8080/ws" {
		t.Fatalf("host endpoint = %s", got)
	}
}
