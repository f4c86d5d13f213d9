package portal

import (
	"net"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
)

// apNetmask is the AP subnet's mask (spec.md §6: "netmask 255.255.255.0").
var apNetmask = net.IPv4Mask(255, 255, 255, 0)

// startDHCP brings up the AP-side DHCP server handing out the single
// static lease staticLeaseIP to any joining client: spec.md leaves the
// AP's own address-assignment story implicit (an AP needs *some* way to
// give joining stations an address before the captive portal's DNS hijack
// and HTTP form become reachable), so this supplies it, grounded in the
// teacher's own internal/services/dhcp use of insomniacslk/dhcp/dhcpv4.
func (p *Portal) startDHCP() error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: 67}
	conn, err := server4.NewIPv4UDPConn("", addr)
	if err != nil {
		return err
	}

	p.dhcpConn = conn
	p.dhcpDone = make(chan struct{})

	go p.serveDHCP(conn)
	return nil
}

func (p *Portal) stopDHCP() {
	if p.dhcpConn == nil {
		return
	}
	_ = p.dhcpConn.Close()
	<-p.dhcpDone
	p.dhcpConn = nil
}

func (p *Portal) serveDHCP(conn net.PacketConn) {
	defer close(p.dhcpDone)

	buf := make([]byte, 1500)
	routerIP := net.IP(apIP[:]).To4()

	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return // closed
		}

		m, err := dhcpv4.FromBytes(buf[:n])
		if err != nil {
			continue
		}

		var reply *dhcpv4.DHCPv4
		switch m.MessageType() {
		case dhcpv4.MessageTypeDiscover:
			reply, err = dhcpv4.NewReplyFromRequest(m,
				dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
				dhcpv4.WithYourIP(staticLeaseIP),
				dhcpv4.WithServerIP(routerIP),
				dhcpv4.WithRouter(routerIP),
				dhcpv4.WithNetmask(apNetmask),
				dhcpv4.WithLeaseTime(uint32((24 * 3600))),
			)
		case dhcpv4.MessageTypeRequest:
			reply, err = dhcpv4.NewReplyFromRequest(m,
				dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
				dhcpv4.WithYourIP(staticLeaseIP),
				dhcpv4.WithServerIP(routerIP),
				dhcpv4.WithRouter(routerIP),
				dhcpv4.WithNetmask(apNetmask),
				dhcpv4.WithLeaseTime(uint32((24 * 3600))),
			)
		default:
			continue
		}
		if err != nil {
			p.log.Warn("portal: dhcp: build reply failed: ", err.Error())
			continue
		}

		dest := peer
		if udpAddr, ok := peer.(*net.UDPAddr); ok && udpAddr.IP.IsUnspecified() {
			dest = &net.UDPAddr{IP: net.IPv4bcast, Port: 68}
		}
		if _, err := conn.WriteTo(reply.ToBytes(), dest); err != nil {
			p.log.Warn("portal: dhcp: write reply failed: ", err.Error())
		}
	}
}
