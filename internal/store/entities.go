package store

import (
	"strings"
	"time"
)

// ID prefixes distinguish entity references from names in API paths.
const (
	IDPrefixUser     = "User_"
	IDPrefixGroup    = "Group_"
	IDPrefixCluster  = "Cluster_"
	IDPrefixInstance = "Instance_"
	IDPrefixSecret   = "Secret_"
)

// User is an account known to the platform. Token is the opaque bearer
// credential; GlobusID ties the account to its federated identity.
type User struct {
	Valid       bool
	ID          string
	Name        string
	Email       string
	Phone       string
	Institution string
	Token       string
	GlobusID    string
	Admin       bool
}

// Group is a collaboration that owns clusters, application instances and
// secrets. Name is globally unique and doubles as the group's namespace
// stem on every cluster.
type Group struct {
	Valid        bool
	ID           string
	Name         string
	Email        string
	Phone        string
	ScienceField string
	Description  string
}

// GeoLocation is a point attached to a cluster for locality-aware
// scheduling hints.
type GeoLocation struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Cluster is a remote Kubernetes cluster registered with the platform.
// Config holds the kubeconfig YAML byte-for-byte as supplied at
// registration; it is materialized to disk only for subprocess use.
type Cluster struct {
	Valid              bool
	ID                 string
	Name               string
	Config             string
	SystemNamespace    string
	OwningGroupID      string
	OwningOrganization string
	Locations          []GeoLocation
}

// ApplicationInstance is a deployed Helm release owned by a Group on a
// Cluster. Config is the canonicalized user-supplied values document.
type ApplicationInstance struct {
	Valid         bool
	ID            string
	Name          string
	Application   string
	OwningGroupID string
	ClusterID     string
	Config        string
	Created       time.Time
}

// Secret is an encrypted payload installed as a Kubernetes Secret in the
// owning group's namespace on one cluster. Contents is the sealed
// container; plaintext exists only transiently in executors.
type Secret struct {
	Valid     bool
	ID        string
	Name      string
	GroupID   string
	ClusterID string
	Created   time.Time
	Contents  []byte
}

// Application is a catalog entry resolved from a Helm repository. It is
// never persisted; installed instances reference it by name.
type Application struct {
	Valid        bool
	Name         string
	ChartVersion string
	AppVersion   string
	Description  string
}

// WildcardApplication in an app grant allows a group to install every
// application on the cluster.
const WildcardApplication = "*"

// IsUserID reports whether ref looks like a user ID rather than a name.
func IsUserID(ref string) bool { return strings.HasPrefix(ref, IDPrefixUser) }

// IsGroupID reports whether ref looks like a group ID rather than a name.
func IsGroupID(ref string) bool { return strings.HasPrefix(ref, IDPrefixGroup) }

// IsClusterID reports whether ref looks like a cluster ID rather than a name.
func IsClusterID(ref string) bool { return strings.HasPrefix(ref, IDPrefixCluster) }

// IsInstanceID reports whether ref looks like an instance ID.
func IsInstanceID(ref string) bool { return strings.HasPrefix(ref, IDPrefixInstance) }

// IsSecretID reports whether ref looks like a secret ID.
func IsSecretID(ref string) bool { return strings.HasPrefix(ref, IDPrefixSecret) }
