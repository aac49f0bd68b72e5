// Package rfc2136 implements dynamic DNS updates against an authoritative
// nameserver, optionally authenticated with TSIG.
package rfc2136

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	slatedns "github.com/slateci/slate-api-server/internal/dns"
)

const recordTTL = 120

// Exchanger sends one DNS message and returns the reply. *dns.Client
// satisfies it.
type Exchanger interface {
	Exchange(msg *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// Config locates the zone and its authoritative server.
type Config struct {
	// Server is the host:port the updates and lookups are sent to.
	Server string
	// Zone is the zone the records live in, with or without a trailing dot.
	Zone string
	// TSIGName and TSIGSecret enable hmac-sha256 transaction signatures
	// when both are set.
	TSIGName   string
	TSIGSecret string
}

// Provider sends RFC 2136 updates over TCP.
type Provider struct {
	client Exchanger
	server string
	zone   string
	tsig   string
}

var _ slatedns.Provider = (*Provider)(nil)

// New returns a provider for cfg's zone.
func New(cfg Config) *Provider {
	client := &dns.Client{Net: "tcp"}
	p := &Provider{
		client: client,
		server: cfg.Server,
		zone:   dns.Fqdn(cfg.Zone),
	}
	if cfg.TSIGName != "" && cfg.TSIGSecret != "" {
		p.tsig = dns.Fqdn(cfg.TSIGName)
		client.TsigSecret = map[string]string{p.tsig: cfg.TSIGSecret}
	}
	return p
}

// NewWithExchanger is New with an injected message transport.
func NewWithExchanger(cfg Config, client Exchanger) *Provider {
	p := New(cfg)
	p.client = client
	return p
}

// Lookup queries the authoritative server for the name's A, AAAA and TXT
// records. NXDOMAIN is an empty set.
func (p *Provider) Lookup(ctx context.Context, name string) (slatedns.RecordSet, error) {
	var set slatedns.RecordSet
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA, dns.TypeTXT} {
		answers, err := p.query(ctx, name, qtype)
		if err != nil {
			return slatedns.RecordSet{}, err
		}
		for _, rr := range answers {
			switch record := rr.(type) {
			case *dns.A:
				set.IPs = append(set.IPs, record.A)
			case *dns.AAAA:
				set.IPs = append(set.IPs, record.AAAA)
			case *dns.TXT:
				set.Heritage = append(set.Heritage, strings.Join(record.Txt, ""))
			}
		}
	}
	return set, nil
}

// Set replaces the name's address and heritage records in one update. The
// existing RRsets are removed first so stale values never linger.
func (p *Provider) Set(ctx context.Context, name string, ips []net.IP, heritage string) error {
	fqdn := dns.Fqdn(name)
	msg := (&dns.Msg{}).SetUpdate(p.zone)
	msg.RemoveRRset(rrsetHeaders(fqdn))

	var inserts []dns.RR
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			inserts = append(inserts, &dns.A{Hdr: header(fqdn, dns.TypeA), A: v4})
			continue
		}
		inserts = append(inserts, &dns.AAAA{Hdr: header(fqdn, dns.TypeAAAA), AAAA: ip.To16()})
	}
	inserts = append(inserts, &dns.TXT{Hdr: header(fqdn, dns.TypeTXT), Txt: []string{heritage}})
	msg.Insert(inserts)

	return p.send(ctx, msg)
}

// Delete removes the name's address and heritage RRsets.
func (p *Provider) Delete(ctx context.Context, name string) error {
	msg := (&dns.Msg{}).SetUpdate(p.zone)
	msg.RemoveRRset(rrsetHeaders(dns.Fqdn(name)))
	return p.send(ctx, msg)
}

func (p *Provider) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	msg := (&dns.Msg{}).SetQuestion(dns.Fqdn(name), qtype)
	resp, _, err := p.exchange(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("dns query failed: %w", err)
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
		return resp.Answer, nil
	case dns.RcodeNameError:
		return nil, nil
	default:
		return nil, fmt.Errorf("dns query failed with rcode %s", dns.RcodeToString[resp.Rcode])
	}
}

func (p *Provider) send(ctx context.Context, msg *dns.Msg) error {
	if p.tsig != "" {
		msg.SetTsig(p.tsig, dns.HmacSHA256, 300, time.Now().Unix())
	}
	resp, _, err := p.exchange(ctx, msg)
	if err != nil {
		return fmt.Errorf("dns update exchange failed: %w", err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("dns update failed with rcode %s", dns.RcodeToString[resp.Rcode])
	}
	return nil
}

func (p *Provider) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	if client, ok := p.client.(*dns.Client); ok {
		return client.ExchangeContext(ctx, msg, p.server)
	}
	return p.client.Exchange(msg, p.server)
}

func header(fqdn string, rrtype uint16) dns.RR_Header {
	return dns.RR_Header{Name: fqdn, Rrtype: rrtype, Class: dns.ClassINET, Ttl: recordTTL}
}

// rrsetHeaders names every record type the service writes, so removal and
// replacement always cover all three.
func rrsetHeaders(fqdn string) []dns.RR {
	return []dns.RR{
		&dns.ANY{Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeA, Class: dns.ClassINET}},
		&dns.ANY{Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeAAAA, Class: dns.ClassINET}},
		&dns.ANY{Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeTXT, Class: dns.ClassINET}},
	}
}
