package store

import "github.com/google/uuid"

// IDGenerator mints entity identifiers and access tokens. Safe for
// concurrent use; every method reads the process CSPRNG.
type IDGenerator struct{}

// NewUserID returns a fresh user identifier.
func (IDGenerator) NewUserID() string { return IDPrefixUser + uuid.NewString() }

// NewGroupID returns a fresh group identifier.
func (IDGenerator) NewGroupID() string { return IDPrefixGroup + uuid.NewString() }

// NewClusterID returns a fresh cluster identifier.
func (IDGenerator) NewClusterID() string { return IDPrefixCluster + uuid.NewString() }

// NewInstanceID returns a fresh application-instance identifier.
func (IDGenerator) NewInstanceID() string { return IDPrefixInstance + uuid.NewString() }

// NewSecretID returns a fresh secret identifier.
func (IDGenerator) NewSecretID() string { return IDPrefixSecret + uuid.NewString() }

// NewToken returns an opaque 128-bit bearer token. Tokens are credentials;
// they appear in the store and nowhere else.
func (IDGenerator) NewToken() string { return uuid.NewString() }
