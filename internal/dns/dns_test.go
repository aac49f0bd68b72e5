package dns_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slateci/slate-api-server/internal/dns"
)

type fakeProvider struct {
	records map[string]dns.RecordSet
	sets    []string
	deletes []string
}

func (f *fakeProvider) Lookup(_ context.Context, name string) (dns.RecordSet, error) {
	return f.records[name], nil
}

func (f *fakeProvider) Set(_ context.Context, name string, ips []net.IP, heritage string) error {
	if f.records == nil {
		f.records = map[string]dns.RecordSet{}
	}
	f.records[name] = dns.RecordSet{IPs: ips, Heritage: []string{heritage}}
	f.sets = append(f.sets, name)
	return nil
}

func (f *fakeProvider) Delete(_ context.Context, name string) error {
	delete(f.records, name)
	f.deletes = append(f.deletes, name)
	return nil
}

func newManager(provider *fakeProvider) *dns.Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return dns.NewManager(provider, "slate.example.org", "prod-api", logger)
}

func TestName(t *testing.T) {
	m := newManager(&fakeProvider{})
	assert.Equal(t, "g1-nginx-web.slate.example.org", m.Name("g1-nginx-web"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dotted := dns.NewManager(&fakeProvider{}, "slate.example.org.", "prod-api", logger)
	assert.Equal(t, "g1-nginx-web.slate.example.org", dotted.Name("g1-nginx-web"))
}

func TestEnsureClaimsFreshName(t *testing.T) {
	provider := &fakeProvider{}
	m := newManager(provider)

	err := m.Ensure(context.Background(), "g1-nginx-web", []net.IP{net.ParseIP("192.0.2.7")})
	require.NoError(t, err)

	require.Equal(t, []string{"g1-nginx-web.slate.example.org"}, provider.sets)
	set := provider.records["g1-nginx-web.slate.example.org"]
	assert.Equal(t, []string{"heritage=slate,owner=prod-api"}, set.Heritage)
	require.Len(t, set.IPs, 1)
	assert.True(t, set.IPs[0].Equal(net.ParseIP("192.0.2.7")))
}

func TestEnsureUpdatesOwnedName(t *testing.T) {
	provider := &fakeProvider{records: map[string]dns.RecordSet{
		"g1-nginx-web.slate.example.org": {
			IPs:      []net.IP{net.ParseIP("203.0.113.5")},
			Heritage: []string{"heritage=slate,owner=prod-api"},
		},
	}}
	m := newManager(provider)

	err := m.Ensure(context.Background(), "g1-nginx-web", []net.IP{net.ParseIP("192.0.2.9")})
	require.NoError(t, err)
	set := provider.records["g1-nginx-web.slate.example.org"]
	require.Len(t, set.IPs, 1)
	assert.True(t, set.IPs[0].Equal(net.ParseIP("192.0.2.9")))
}

func TestEnsureRefusesForeignMarker(t *testing.T) {
	provider := &fakeProvider{records: map[string]dns.RecordSet{
		"g1-nginx-web.slate.example.org": {
			Heritage: []string{"heritage=slate,owner=another-deployment"},
		},
	}}
	m := newManager(provider)

	err := m.Ensure(context.Background(), "g1-nginx-web", []net.IP{net.ParseIP("192.0.2.7")})
	assert.ErrorIs(t, err, dns.ErrForeignRecord)
	assert.Empty(t, provider.sets)
}

func TestEnsureRefusesUnmanagedRecords(t *testing.T) {
	provider := &fakeProvider{records: map[string]dns.RecordSet{
		"g1-nginx-web.slate.example.org": {
			IPs: []net.IP{net.ParseIP("198.51.100.20")},
		},
	}}
	m := newManager(provider)

	err := m.Ensure(context.Background(), "g1-nginx-web", []net.IP{net.ParseIP("192.0.2.7")})
	assert.ErrorIs(t, err, dns.ErrForeignRecord)
}

func TestRemoveAbsentNameIsANoOp(t *testing.T) {
	provider := &fakeProvider{}
	m := newManager(provider)

	require.NoError(t, m.Remove(context.Background(), "never-published"))
	assert.Empty(t, provider.deletes)
}

func TestRemoveOwnedName(t *testing.T) {
	provider := &fakeProvider{records: map[string]dns.RecordSet{
		"g1-nginx-web.slate.example.org": {
			IPs:      []net.IP{net.ParseIP("192.0.2.7")},
			Heritage: []string{"heritage=slate,owner=prod-api"},
		},
	}}
	m := newManager(provider)

	require.NoError(t, m.Remove(context.Background(), "g1-nginx-web"))
	assert.Equal(t, []string{"g1-nginx-web.slate.example.org"}, provider.deletes)
	assert.Empty(t, provider.records)
}

func TestRemoveRefusesForeignRecord(t *testing.T) {
	provider := &fakeProvider{records: map[string]dns.RecordSet{
		"g1-nginx-web.slate.example.org": {
			IPs: []net.IP{net.ParseIP("198.51.100.20")},
		},
	}}
	m := newManager(provider)

	err := m.Remove(context.Background(), "g1-nginx-web")
	assert.ErrorIs(t, err, dns.ErrForeignRecord)
	assert.Empty(t, provider.deletes)
}
