package portal

import (
	"net"

	"github.com/miekg/dns"
)

// serveDNS answers every query with the AP's own address, regardless of
// question name (spec.md §4.8/§6: "DNS server on port 53 resolving every
// query to the AP IP (captive portal)").
func (p *Portal) serveDNS(w dns.ResponseWriter, req *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.Authoritative = true

	for _, q := range req.Question {
		if q.Qtype != dns.TypeA {
			continue
		}
		rr := &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    0,
			},
			A: net.IP(apIP[:]).To4(),
		}
		msg.Answer = append(msg.Answer, rr)
	}

	_ = w.WriteMsg(msg)
}
