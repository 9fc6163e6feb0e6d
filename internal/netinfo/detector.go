// Package netinfo finds the local address other peers can reach us on.
package netinfo

import (
	"log/slog"
	"net"
	"strings"
	"time"
)

// Kind classifies an interface.
type Kind string

const (
	KindWifi     Kind = "wifi"
	KindEthernet Kind = "ethernet"
	KindPrivate  Kind = "private"
	KindHotspot  Kind = "hotspot"
	KindCellular Kind = "cellular"
	KindUnknown  Kind = "unknown"
)

// priority is the selection order for Best.
var priority = []Kind{KindWifi, KindEthernet, KindPrivate, KindHotspot, KindCellular, KindUnknown}

// Loopback is returned when nothing better can be found.
const Loopback = "127.0.0.1"

// Interface is one usable IPv4 address on the host.
type Interface struct {
	Name    string `json:"name"`
	Address string `json:"ip"`
	Netmask string `json:"netmask"`
	Type    Kind   `json:"type"`
	Active  bool   `json:"is_active"`
}

// RawAddr is what enumeration yields before classification.
type RawAddr struct {
	Name string
	Net  *net.IPNet
	Up   bool
}

var (
	hotspotNames  = []string{"ap", "hotspot", "tether", "rndis", "ncm"}
	cellularNames = []string{"rmnet", "ccmni", "cellular", "mobile", "wwan"}
	wifiNames     = []string{"wlan", "wifi", "wl", "ath"}
	ethernetNames = []string{"eth", "en0", "en1", "lan"}

	// Subnets handed out by common phone and Windows hotspots.
	hotspotNets = []string{"192.168.43.0/24", "192.168.137.0/24"}

	probeTargets = []string{"1.1.1.1:80", "8.8.8.8:80", "208.67.222.222:80"}
)

// Detector enumerates and ranks interfaces. The zero value uses the host's
// interfaces; tests replace Enumerate and Probe.
type Detector struct {
	// Enumerate lists candidate addresses. A nil func uses net.Interfaces.
	Enumerate func() ([]RawAddr, error)
	// Probe returns the OS-chosen source address for a connectionless socket
	// aimed at target. A nil func dials UDP without sending.
	Probe func(target string) (string, error)
}

// List returns usable interfaces in enumeration order. It falls back to a
// probe socket when enumeration fails or finds nothing.
func (d *Detector) List() []Interface {
	enumerate := d.Enumerate
	if enumerate == nil {
		enumerate = systemInterfaces
	}
	raw, err := enumerate()
	if err != nil {
		slog.Warn("Interface enumeration failed, probing", "error", err)
	}

	var out []Interface
	for _, r := range raw {
		if r.Net == nil {
			continue
		}
		ip := r.Net.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		out = append(out, Interface{
			Name:    r.Name,
			Address: ip.String(),
			Netmask: net.IP(r.Net.Mask).String(),
			Type:    Classify(r.Name, ip.String()),
			Active:  r.Up,
		})
	}
	if len(out) > 0 {
		return out
	}

	if ip := d.probe(); ip != "" {
		return []Interface{{
			Name:    "default",
			Address: ip,
			Netmask: "255.255.255.0",
			Type:    ClassifyIP(ip),
			Active:  true,
		}}
	}
	return nil
}

// All keys the interfaces by name.
func (d *Detector) All() map[string]Interface {
	list := d.List()
	out := make(map[string]Interface, len(list))
	for _, iface := range list {
		if _, dup := out[iface.Name]; !dup {
			out[iface.Name] = iface
		}
	}
	return out
}

// Best picks the preferred active address. It never fails: with nothing
// usable it returns the loopback address and KindUnknown.
func (d *Detector) Best() (string, Kind) {
	return pick(d.List())
}

func pick(list []Interface) (string, Kind) {
	for _, kind := range priority {
		for _, iface := range list {
			if iface.Active && iface.Type == kind {
				return iface.Address, iface.Type
			}
		}
	}
	return Loopback, KindUnknown
}

func (d *Detector) probe() string {
	probe := d.Probe
	if probe == nil {
		probe = udpProbe
	}
	for _, target := range probeTargets {
		ip, err := probe(target)
		if err != nil {
			slog.Debug("Probe failed", "target", target, "error", err)
			continue
		}
		if parsed := net.ParseIP(ip); parsed != nil && !parsed.IsUnspecified() && !parsed.IsLoopback() {
			return parsed.String()
		}
	}
	return ""
}

// Classify tries name patterns first and falls back to address ranges.
func Classify(name, ip string) Kind {
	n := strings.ToLower(name)
	switch {
	case containsAny(n, hotspotNames):
		return KindHotspot
	case containsAny(n, cellularNames):
		return KindCellular
	// wifi before ethernet: "wlan0" also contains "lan".
	case containsAny(n, wifiNames):
		return KindWifi
	case containsAny(n, ethernetNames):
		return KindEthernet
	}
	return ClassifyIP(ip)
}

// ClassifyIP guesses the kind from the address alone.
func ClassifyIP(ip string) Kind {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return KindUnknown
	}
	for _, cidr := range hotspotNets {
		_, n, _ := net.ParseCIDR(cidr)
		if n.Contains(parsed) {
			return KindHotspot
		}
	}
	if parsed.IsPrivate() {
		return KindPrivate
	}
	return KindUnknown
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func systemInterfaces() ([]RawAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []RawAddr
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			out = append(out, RawAddr{
				Name: iface.Name,
				Net:  ipnet,
				Up:   iface.Flags&net.FlagUp != 0,
			})
			break // first IPv4 per interface
		}
	}
	return out, nil
}

// udpProbe lets the OS pick a source address; nothing is sent.
func udpProbe(target string) (string, error) {
	conn, err := net.DialTimeout("udp", target, 2*time.Second)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
