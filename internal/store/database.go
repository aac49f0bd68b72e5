package store

import (
	"context"
	"errors"
)

// Sentinel errors shared by Database implementations and the Store.
var (
	// ErrNameInUse reports a create that collides with an existing name.
	ErrNameInUse = errors.New("store: name already in use")

	// ErrGlobusIDInUse reports a user create that collides with an existing
	// federated identity.
	ErrGlobusIDInUse = errors.New("store: federated identity already registered")

	// ErrUnknownCluster reports a kubeconfig request for a cluster that does
	// not exist.
	ErrUnknownCluster = errors.New("store: unknown cluster")
)

// InstanceFilter narrows instance listings. Zero fields match everything.
type InstanceFilter struct {
	GroupID   string
	ClusterID string
}

// SecretFilter narrows secret listings. GroupID is required by every caller;
// ClusterID is optional.
type SecretFilter struct {
	GroupID   string
	ClusterID string
}

// Database is the persistence boundary. Implementations must be safe for
// concurrent use and swappable without touching any executor: the reference
// deployment runs SQL (see sqlstore), tests run in memory (see storetest).
//
// Get accessors report absence as a zero record with Valid=false and a nil
// error; errors are reserved for infrastructure failures.
//
// Relation rows die with their owning entity: DeleteUser removes the user's
// membership rows, DeleteGroup removes the group's membership and grant
// rows, DeleteCluster removes the cluster's grant rows, and
// RemoveClusterAccess removes the pair's application grants. Wider cascades
// (instances, secrets, owned clusters) are orchestrated above the store.
type Database interface {
	// Users.
	PutUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByToken(ctx context.Context, token string) (User, error)
	GetUserByGlobusID(ctx context.Context, globusID string) (User, error)
	UpdateUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]User, error)

	// Group membership.
	AddUserToGroup(ctx context.Context, userID, groupID string) error
	RemoveUserFromGroup(ctx context.Context, userID, groupID string) error
	UserInGroup(ctx context.Context, userID, groupID string) (bool, error)
	ListUserGroupIDs(ctx context.Context, userID string) ([]string, error)
	ListGroupMemberIDs(ctx context.Context, groupID string) ([]string, error)

	// Groups.
	PutGroup(ctx context.Context, g Group) error
	GetGroup(ctx context.Context, id string) (Group, error)
	GetGroupByName(ctx context.Context, name string) (Group, error)
	UpdateGroup(ctx context.Context, g Group) error
	DeleteGroup(ctx context.Context, id string) error
	ListGroups(ctx context.Context) ([]Group, error)

	// Clusters.
	PutCluster(ctx context.Context, c Cluster) error
	GetCluster(ctx context.Context, id string) (Cluster, error)
	GetClusterByName(ctx context.Context, name string) (Cluster, error)
	UpdateCluster(ctx context.Context, c Cluster) error
	DeleteCluster(ctx context.Context, id string) error
	ListClusters(ctx context.Context) ([]Cluster, error)
	ListClustersOwnedByGroup(ctx context.Context, groupID string) ([]Cluster, error)

	// Access grants: presence means the group may deploy on the cluster.
	AddClusterAccess(ctx context.Context, clusterID, groupID string) error
	RemoveClusterAccess(ctx context.Context, clusterID, groupID string) error
	ClusterAccessExists(ctx context.Context, clusterID, groupID string) (bool, error)
	ListClusterAccessGroupIDs(ctx context.Context, clusterID string) ([]string, error)

	// Application grants, per (cluster, group). WildcardApplication grants
	// every application.
	AddClusterGroupApplication(ctx context.Context, clusterID, groupID, application string) error
	RemoveClusterGroupApplication(ctx context.Context, clusterID, groupID, application string) error
	ListClusterGroupApplications(ctx context.Context, clusterID, groupID string) ([]string, error)

	// Application instances.
	PutInstance(ctx context.Context, inst ApplicationInstance) error
	GetInstance(ctx context.Context, id string) (ApplicationInstance, error)
	GetInstanceByName(ctx context.Context, name string) (ApplicationInstance, error)
	DeleteInstance(ctx context.Context, id string) error
	ListInstances(ctx context.Context, filter InstanceFilter) ([]ApplicationInstance, error)

	// Secrets.
	PutSecret(ctx context.Context, s Secret) error
	GetSecret(ctx context.Context, id string) (Secret, error)
	GetSecretByName(ctx context.Context, groupID, clusterID, name string) (Secret, error)
	DeleteSecret(ctx context.Context, id string) error
	ListSecrets(ctx context.Context, filter SecretFilter) ([]Secret, error)

	// Ping verifies the backend is reachable; readiness probes call it.
	Ping(ctx context.Context) error
	Close() error
}
