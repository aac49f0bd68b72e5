// Package storetest provides an in-memory store.Database for tests. It
// honors the same contracts as the SQL implementation: absence is a
// Valid=false record, relation rows die with their owning entity, and every
// method is safe for concurrent use. FailWith injects infrastructure
// failures for error-path tests.
package storetest

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/slateci/slate-api-server/internal/store"
)

type membership struct {
	userID  string
	groupID string
}

type accessGrant struct {
	clusterID string
	groupID   string
}

type appGrant struct {
	clusterID   string
	groupID     string
	application string
}

// DB is an in-memory Database.
type DB struct {
	mu        sync.Mutex
	err       error
	users     map[string]store.User
	groups    map[string]store.Group
	clusters  map[string]store.Cluster
	instances map[string]store.ApplicationInstance
	secrets   map[string]store.Secret
	members   map[membership]struct{}
	access    map[accessGrant]struct{}
	appGrants map[appGrant]struct{}
}

// New returns an empty in-memory database.
func New() *DB {
	return &DB{
		users:     make(map[string]store.User),
		groups:    make(map[string]store.Group),
		clusters:  make(map[string]store.Cluster),
		instances: make(map[string]store.ApplicationInstance),
		secrets:   make(map[string]store.Secret),
		members:   make(map[membership]struct{}),
		access:    make(map[accessGrant]struct{}),
		appGrants: make(map[appGrant]struct{}),
	}
}

// FailWith makes every subsequent call return err. Pass nil to heal.
func (d *DB) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func cloneCluster(c store.Cluster) store.Cluster {
	c.Locations = slices.Clone(c.Locations)
	return c
}

func cloneSecret(s store.Secret) store.Secret {
	s.Contents = slices.Clone(s.Contents)
	return s
}

// Users.

func (d *DB) PutUser(_ context.Context, u store.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	u.Valid = true
	d.users[u.ID] = u
	return nil
}

func (d *DB) GetUser(_ context.Context, id string) (store.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.User{}, d.err
	}
	return d.users[id], nil
}

func (d *DB) GetUserByToken(_ context.Context, token string) (store.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.User{}, d.err
	}
	for _, u := range d.users {
		if u.Token == token {
			return u, nil
		}
	}
	return store.User{}, nil
}

func (d *DB) GetUserByGlobusID(_ context.Context, globusID string) (store.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.User{}, d.err
	}
	for _, u := range d.users {
		if u.GlobusID == globusID {
			return u, nil
		}
	}
	return store.User{}, nil
}

func (d *DB) UpdateUser(_ context.Context, u store.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if _, ok := d.users[u.ID]; ok {
		u.Valid = true
		d.users[u.ID] = u
	}
	return nil
}

func (d *DB) DeleteUser(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	delete(d.users, id)
	for m := range d.members {
		if m.userID == id {
			delete(d.members, m)
		}
	}
	return nil
}

func (d *DB) ListUsers(_ context.Context) ([]store.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]store.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sortByID(out, func(u store.User) string { return u.ID })
	return out, nil
}

// Group membership.

func (d *DB) AddUserToGroup(_ context.Context, userID, groupID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.members[membership{userID: userID, groupID: groupID}] = struct{}{}
	return nil
}

func (d *DB) RemoveUserFromGroup(_ context.Context, userID, groupID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	delete(d.members, membership{userID: userID, groupID: groupID})
	return nil
}

func (d *DB) UserInGroup(_ context.Context, userID, groupID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	_, ok := d.members[membership{userID: userID, groupID: groupID}]
	return ok, nil
}

func (d *DB) ListUserGroupIDs(_ context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var out []string
	for m := range d.members {
		if m.userID == userID {
			out = append(out, m.groupID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (d *DB) ListGroupMemberIDs(_ context.Context, groupID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var out []string
	for m := range d.members {
		if m.groupID == groupID {
			out = append(out, m.userID)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Groups.

func (d *DB) PutGroup(_ context.Context, g store.Group) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	g.Valid = true
	d.groups[g.ID] = g
	return nil
}

func (d *DB) GetGroup(_ context.Context, id string) (store.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.Group{}, d.err
	}
	return d.groups[id], nil
}

func (d *DB) GetGroupByName(_ context.Context, name string) (store.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.Group{}, d.err
	}
	for _, g := range d.groups {
		if g.Name == name {
			return g, nil
		}
	}
	return store.Group{}, nil
}

func (d *DB) UpdateGroup(_ context.Context, g store.Group) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if _, ok := d.groups[g.ID]; ok {
		g.Valid = true
		d.groups[g.ID] = g
	}
	return nil
}

func (d *DB) DeleteGroup(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	delete(d.groups, id)
	for m := range d.members {
		if m.groupID == id {
			delete(d.members, m)
		}
	}
	for a := range d.access {
		if a.groupID == id {
			delete(d.access, a)
		}
	}
	for a := range d.appGrants {
		if a.groupID == id {
			delete(d.appGrants, a)
		}
	}
	return nil
}

func (d *DB) ListGroups(_ context.Context) ([]store.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]store.Group, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, g)
	}
	sortByID(out, func(g store.Group) string { return g.ID })
	return out, nil
}

// Clusters.

func (d *DB) PutCluster(_ context.Context, c store.Cluster) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	c.Valid = true
	d.clusters[c.ID] = cloneCluster(c)
	return nil
}

func (d *DB) GetCluster(_ context.Context, id string) (store.Cluster, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.Cluster{}, d.err
	}
	return cloneCluster(d.clusters[id]), nil
}

func (d *DB) GetClusterByName(_ context.Context, name string) (store.Cluster, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.Cluster{}, d.err
	}
	for _, c := range d.clusters {
		if c.Name == name {
			return cloneCluster(c), nil
		}
	}
	return store.Cluster{}, nil
}

func (d *DB) UpdateCluster(_ context.Context, c store.Cluster) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if _, ok := d.clusters[c.ID]; ok {
		c.Valid = true
		d.clusters[c.ID] = cloneCluster(c)
	}
	return nil
}

func (d *DB) DeleteCluster(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	delete(d.clusters, id)
	for a := range d.access {
		if a.clusterID == id {
			delete(d.access, a)
		}
	}
	for a := range d.appGrants {
		if a.clusterID == id {
			delete(d.appGrants, a)
		}
	}
	return nil
}

func (d *DB) ListClusters(_ context.Context) ([]store.Cluster, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]store.Cluster, 0, len(d.clusters))
	for _, c := range d.clusters {
		out = append(out, cloneCluster(c))
	}
	sortByID(out, func(c store.Cluster) string { return c.ID })
	return out, nil
}

func (d *DB) ListClustersOwnedByGroup(_ context.Context, groupID string) ([]store.Cluster, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var out []store.Cluster
	for _, c := range d.clusters {
		if c.OwningGroupID == groupID {
			out = append(out, cloneCluster(c))
		}
	}
	sortByID(out, func(c store.Cluster) string { return c.ID })
	return out, nil
}

// Access grants.

func (d *DB) AddClusterAccess(_ context.Context, clusterID, groupID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.access[accessGrant{clusterID: clusterID, groupID: groupID}] = struct{}{}
	return nil
}

func (d *DB) RemoveClusterAccess(_ context.Context, clusterID, groupID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	delete(d.access, accessGrant{clusterID: clusterID, groupID: groupID})
	for a := range d.appGrants {
		if a.clusterID == clusterID && a.groupID == groupID {
			delete(d.appGrants, a)
		}
	}
	return nil
}

func (d *DB) ClusterAccessExists(_ context.Context, clusterID, groupID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	_, ok := d.access[accessGrant{clusterID: clusterID, groupID: groupID}]
	return ok, nil
}

func (d *DB) ListClusterAccessGroupIDs(_ context.Context, clusterID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var out []string
	for a := range d.access {
		if a.clusterID == clusterID {
			out = append(out, a.groupID)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Application grants.

func (d *DB) AddClusterGroupApplication(_ context.Context, clusterID, groupID, application string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.appGrants[appGrant{clusterID: clusterID, groupID: groupID, application: application}] = struct{}{}
	return nil
}

func (d *DB) RemoveClusterGroupApplication(_ context.Context, clusterID, groupID, application string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	delete(d.appGrants, appGrant{clusterID: clusterID, groupID: groupID, application: application})
	return nil
}

func (d *DB) ListClusterGroupApplications(_ context.Context, clusterID, groupID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var out []string
	for a := range d.appGrants {
		if a.clusterID == clusterID && a.groupID == groupID {
			out = append(out, a.application)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Instances.

func (d *DB) PutInstance(_ context.Context, inst store.ApplicationInstance) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	inst.Valid = true
	d.instances[inst.ID] = inst
	return nil
}

func (d *DB) GetInstance(_ context.Context, id string) (store.ApplicationInstance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.ApplicationInstance{}, d.err
	}
	return d.instances[id], nil
}

func (d *DB) GetInstanceByName(_ context.Context, name string) (store.ApplicationInstance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.ApplicationInstance{}, d.err
	}
	for _, inst := range d.instances {
		if inst.Name == name {
			return inst, nil
		}
	}
	return store.ApplicationInstance{}, nil
}

func (d *DB) DeleteInstance(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	delete(d.instances, id)
	return nil
}

func (d *DB) ListInstances(_ context.Context, filter store.InstanceFilter) ([]store.ApplicationInstance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var out []store.ApplicationInstance
	for _, inst := range d.instances {
		if filter.GroupID != "" && inst.OwningGroupID != filter.GroupID {
			continue
		}
		if filter.ClusterID != "" && inst.ClusterID != filter.ClusterID {
			continue
		}
		out = append(out, inst)
	}
	sortByID(out, func(i store.ApplicationInstance) string { return i.ID })
	return out, nil
}

// Secrets.

func (d *DB) PutSecret(_ context.Context, s store.Secret) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	s.Valid = true
	d.secrets[s.ID] = cloneSecret(s)
	return nil
}

func (d *DB) GetSecret(_ context.Context, id string) (store.Secret, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.Secret{}, d.err
	}
	return cloneSecret(d.secrets[id]), nil
}

func (d *DB) GetSecretByName(_ context.Context, groupID, clusterID, name string) (store.Secret, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return store.Secret{}, d.err
	}
	for _, s := range d.secrets {
		if s.GroupID == groupID && s.ClusterID == clusterID && s.Name == name {
			return cloneSecret(s), nil
		}
	}
	return store.Secret{}, nil
}

func (d *DB) DeleteSecret(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	delete(d.secrets, id)
	return nil
}

func (d *DB) ListSecrets(_ context.Context, filter store.SecretFilter) ([]store.Secret, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var out []store.Secret
	for _, s := range d.secrets {
		if filter.GroupID != "" && s.GroupID != filter.GroupID {
			continue
		}
		if filter.ClusterID != "" && s.ClusterID != filter.ClusterID {
			continue
		}
		out = append(out, cloneSecret(s))
	}
	sortByID(out, func(s store.Secret) string { return s.ID })
	return out, nil
}

func (d *DB) Ping(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *DB) Close() error { return nil }

func sortByID[T any](items []T, id func(T) string) {
	slices.SortFunc(items, func(a, b T) int {
		return strings.Compare(id(a), id(b))
	})
}
