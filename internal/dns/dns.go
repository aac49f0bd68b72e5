// Package dns publishes hostnames for deployed instances. Every name the
// service writes carries a heritage TXT marker; names without our marker are
// never modified, so the service can share a zone with other tooling.
package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/slateci/slate-api-server/internal/logging"
)

// ErrForeignRecord means the name exists in the zone but is not managed by
// this server.
var ErrForeignRecord = errors.New("dns name is not managed by this server")

// RecordSet is the current state of one name in the zone.
type RecordSet struct {
	IPs      []net.IP
	Heritage []string
}

// Provider performs raw record operations against one zone.
type Provider interface {
	// Lookup returns the name's current address records and heritage TXT
	// values. A name that does not resolve yields an empty set, not an
	// error.
	Lookup(ctx context.Context, name string) (RecordSet, error)
	// Set replaces the name's address records with ips and writes heritage
	// as its TXT marker.
	Set(ctx context.Context, name string, ips []net.IP, heritage string) error
	// Delete removes the name's address and heritage records.
	Delete(ctx context.Context, name string) error
}

// Manager composes instance hostnames under a zone and guards every write
// with a heritage check.
type Manager struct {
	provider Provider
	zone     string
	marker   string
	logger   *slog.Logger
}

// NewManager returns a manager publishing under zone. owner identifies this
// server in the heritage marker so two deployments can share a zone.
func NewManager(provider Provider, zone, owner string, logger *slog.Logger) *Manager {
	return &Manager{
		provider: provider,
		zone:     strings.TrimSuffix(zone, "."),
		marker:   fmt.Sprintf("heritage=slate,owner=%s", owner),
		logger:   logger,
	}
}

// Name returns the hostname an instance is published under.
func (m *Manager) Name(instance string) string {
	return instance + "." + m.zone
}

// Ensure publishes ips under the instance's hostname. A fresh name is
// claimed with our heritage marker; a name we already own is updated in
// place; anything else is refused with ErrForeignRecord.
func (m *Manager) Ensure(ctx context.Context, instance string, ips []net.IP) error {
	name := m.Name(instance)
	current, err := m.provider.Lookup(ctx, name)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", name, err)
	}
	if err := m.checkOwnership(name, current); err != nil {
		return err
	}
	if err := m.provider.Set(ctx, name, ips, m.marker); err != nil {
		return fmt.Errorf("publishing %s: %w", name, err)
	}
	m.logger.Info("dns record published", logging.Host(name), slog.Int("addresses", len(ips)))
	return nil
}

// Remove deletes the instance's hostname. A name that never resolved is a
// no-op; a name owned by someone else is refused with ErrForeignRecord.
func (m *Manager) Remove(ctx context.Context, instance string) error {
	name := m.Name(instance)
	current, err := m.provider.Lookup(ctx, name)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", name, err)
	}
	if len(current.IPs) == 0 && len(current.Heritage) == 0 {
		return nil
	}
	if err := m.checkOwnership(name, current); err != nil {
		return err
	}
	if err := m.provider.Delete(ctx, name); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	m.logger.Info("dns record removed", logging.Host(name))
	return nil
}

// checkOwnership admits fresh names and names carrying our marker. A name
// with records but no marker belongs to someone's manual zone data and is
// just as foreign as another server's marker.
func (m *Manager) checkOwnership(name string, current RecordSet) error {
	for _, h := range current.Heritage {
		if h == m.marker {
			return nil
		}
	}
	if len(current.Heritage) == 0 && len(current.IPs) == 0 {
		return nil
	}
	m.logger.Warn("refusing to touch foreign dns record", logging.Host(name))
	return fmt.Errorf("%s: %w", name, ErrForeignRecord)
}
