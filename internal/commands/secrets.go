package commands

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/kube"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/secretbox"
	"github.com/slateci/slate-api-server/internal/store"
)

// maxSecretNameLength matches the Kubernetes object name ceiling.
const maxSecretNameLength = 253

// secretName shapes a Kubernetes Secret object name.
var secretNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9.]*[a-z0-9])?$`)

// secretKeyPattern shapes the data keys inside a Secret.
var secretKeyPattern = regexp.MustCompile(`^[-A-Za-z0-9._]+$`)

// managedByLabel marks Kubernetes objects this service created.
const managedByLabel = "slate.io/managed-by"

// CreateSecretRequest stores and installs a secret. Contents values are
// base64; keys follow Kubernetes Secret data key rules.
type CreateSecretRequest struct {
	Name       string            `json:"name" validate:"required"`
	GroupRef   string            `json:"group" validate:"required"`
	ClusterRef string            `json:"cluster" validate:"required"`
	Contents   map[string]string `json:"contents" validate:"required"`
}

// CopySecretRequest replicates an existing secret under a new name,
// possibly for a different group or cluster.
type CopySecretRequest struct {
	Name       string `json:"name" validate:"required"`
	GroupRef   string `json:"group" validate:"required"`
	ClusterRef string `json:"cluster" validate:"required"`
	SourceID   string `json:"sourceID" validate:"required"`
}

// SecretDetail is a secret record together with its decrypted contents.
// Callers must Wipe the detail once the plaintext has been rendered.
type SecretDetail struct {
	Secret   store.Secret
	Contents map[string][]byte
}

// Wipe zeroes the decrypted values.
func (d *SecretDetail) Wipe() {
	for _, v := range d.Contents {
		secretbox.Wipe(v)
	}
}

// ListSecrets returns the group's secret records, optionally narrowed to
// one cluster. The group is mandatory; secrets never list globally.
func (c *Commands) ListSecrets(ctx context.Context, caller store.User, groupRef, clusterRef string) ([]store.Secret, error) {
	if groupRef == "" {
		return nil, apierr.BadRequest("the group to list secrets for is required")
	}
	g, err := c.store.FindGroup(ctx, groupRef)
	if err != nil {
		return nil, apierr.Store(err)
	}
	if !g.Valid {
		return nil, apierr.NotFound("Group")
	}
	if err := c.auth.MayActOnGroup(ctx, caller, g.ID); err != nil {
		return nil, err
	}
	filter := store.SecretFilter{GroupID: g.ID}
	if clusterRef != "" {
		cl, err := c.store.FindCluster(ctx, clusterRef)
		if err != nil {
			return nil, apierr.Store(err)
		}
		if !cl.Valid {
			return nil, apierr.NotFound("Cluster")
		}
		filter.ClusterID = cl.ID
	}
	secrets, err := c.store.ListSecrets(ctx, filter)
	if err != nil {
		return nil, apierr.Store(err)
	}
	return secrets, nil
}

// CreateSecret stores an encrypted copy of the contents and installs them
// as a Kubernetes Secret in the group's namespace on the cluster. A record
// only survives if the installation did: on kubectl failure the record is
// removed again.
func (c *Commands) CreateSecret(ctx context.Context, caller store.User, req CreateSecretRequest) (store.Secret, error) {
	if err := c.validate.Struct(req); err != nil {
		return store.Secret{}, apierr.BadRequest("invalid secret: %v", err)
	}
	if len(req.Name) > maxSecretNameLength || !secretNamePattern.MatchString(req.Name) {
		return store.Secret{}, apierr.BadRequest("secret name must be a lowercase DNS subdomain of at most %d characters", maxSecretNameLength)
	}
	if len(req.Contents) == 0 {
		return store.Secret{}, apierr.BadRequest("secret contents must not be empty")
	}
	data := make(map[string][]byte, len(req.Contents))
	for key, value := range req.Contents {
		if len(key) > maxSecretNameLength || !secretKeyPattern.MatchString(key) {
			return store.Secret{}, apierr.BadRequest("invalid secret key %q: keys may contain alphanumerics, dashes, underscores and dots, at most %d characters", key, maxSecretNameLength)
		}
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return store.Secret{}, apierr.BadRequest("secret value for key %q is not valid base64", key)
		}
		data[key] = decoded
	}

	group, cluster, err := c.deployTarget(ctx, caller, req.GroupRef, req.ClusterRef)
	if err != nil {
		return store.Secret{}, err
	}
	return c.createSecret(ctx, caller, req.Name, group, cluster, data)
}

// CopySecret decrypts an existing secret and re-creates it under a new
// name. Source and destination may belong to different groups as long as
// the caller belongs to both.
func (c *Commands) CopySecret(ctx context.Context, caller store.User, req CopySecretRequest) (store.Secret, error) {
	if err := c.validate.Struct(req); err != nil {
		return store.Secret{}, apierr.BadRequest("invalid copy request: %v", err)
	}
	if len(req.Name) > maxSecretNameLength || !secretNamePattern.MatchString(req.Name) {
		return store.Secret{}, apierr.BadRequest("secret name must be a lowercase DNS subdomain of at most %d characters", maxSecretNameLength)
	}

	source, err := c.GetSecret(ctx, caller, req.SourceID)
	if err != nil {
		return store.Secret{}, err
	}
	defer source.Wipe()

	group, cluster, err := c.deployTarget(ctx, caller, req.GroupRef, req.ClusterRef)
	if err != nil {
		return store.Secret{}, err
	}
	return c.createSecret(ctx, caller, req.Name, group, cluster, source.Contents)
}

// createSecret is the shared seal-store-install path of create and copy.
func (c *Commands) createSecret(ctx context.Context, caller store.User, name string, group store.Group, cluster store.Cluster, data map[string][]byte) (store.Secret, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return store.Secret{}, apierr.Store(fmt.Errorf("encoding secret payload: %w", err))
	}
	sealed, err := secretbox.Seal(payload, c.secretKey)
	secretbox.Wipe(payload)
	if err != nil {
		return store.Secret{}, apierr.Store(fmt.Errorf("sealing secret: %w", err))
	}

	sec := store.Secret{
		ID:        c.ids.NewSecretID(),
		Name:      name,
		GroupID:   group.ID,
		ClusterID: cluster.ID,
		Created:   time.Now().UTC(),
		Contents:  sealed,
	}
	if err := c.store.AddSecret(ctx, sec); err != nil {
		if errors.Is(err, store.ErrNameInUse) {
			return store.Secret{}, apierr.Conflict("a secret named %q already exists for this group on this cluster", name)
		}
		return store.Secret{}, apierr.Store(err)
	}

	if err := c.installSecret(ctx, group, cluster, name, data); err != nil {
		// A record without the Kubernetes object behind it would lie to
		// every consumer; take it back out.
		if derr := c.store.DeleteSecret(ctx, sec.ID); derr != nil {
			c.logger.Error("rollback of secret record failed",
				logging.Secret(sec.ID), logging.Err(derr))
		}
		return store.Secret{}, err
	}

	c.logger.Info("created secret",
		logging.Operation("secret.create"), logging.Secret(sec.ID),
		logging.Group(group.Name), logging.Cluster(cluster.Name), logging.UserID(caller.ID))
	return sec, nil
}

// installSecret applies the secret manifest in the group's namespace.
func (c *Commands) installSecret(ctx context.Context, group store.Group, cluster store.Cluster, name string, data map[string][]byte) error {
	handle, err := c.store.ClusterConfigPath(ctx, cluster.ID)
	if err != nil {
		return apierr.Store(err)
	}
	defer handle.Release()

	namespace := GroupNamespace(group.Name)
	if err := c.kubectl.CreateNamespace(ctx, handle.Path(), namespace); err != nil {
		return err
	}
	manifest, err := kube.SecretManifest(namespace, name, data, map[string]string{managedByLabel: "slate"})
	if err != nil {
		return apierr.Store(err)
	}
	return c.kubectl.ApplyManifest(ctx, handle.Path(), namespace, manifest)
}

// GetSecret returns the record with decrypted contents. The caller owns
// the plaintext and must Wipe it.
func (c *Commands) GetSecret(ctx context.Context, caller store.User, id string) (SecretDetail, error) {
	sec, err := c.store.GetSecret(ctx, id)
	if err != nil {
		return SecretDetail{}, apierr.Store(err)
	}
	if !sec.Valid {
		return SecretDetail{}, apierr.NotFound("Secret")
	}
	if err := c.auth.OwnsSecret(ctx, caller, sec); err != nil {
		return SecretDetail{}, err
	}

	payload, err := secretbox.Open(sec.Contents, c.secretKey)
	if err != nil {
		return SecretDetail{}, apierr.Store(fmt.Errorf("opening secret %s: %w", sec.ID, err))
	}
	var contents map[string][]byte
	err = json.Unmarshal(payload, &contents)
	secretbox.Wipe(payload)
	if err != nil {
		return SecretDetail{}, apierr.Store(fmt.Errorf("decoding secret %s: %w", sec.ID, err))
	}
	return SecretDetail{Secret: sec, Contents: contents}, nil
}

// DeleteSecret removes the Kubernetes object and then the record. An
// object that is already gone does not block record removal.
func (c *Commands) DeleteSecret(ctx context.Context, caller store.User, id string) error {
	sec, err := c.store.GetSecret(ctx, id)
	if err != nil {
		return apierr.Store(err)
	}
	if !sec.Valid {
		return apierr.NotFound("Secret")
	}
	if err := c.auth.OwnsSecret(ctx, caller, sec); err != nil {
		return err
	}
	group, err := c.store.GetGroup(ctx, sec.GroupID)
	if err != nil {
		return apierr.Store(err)
	}
	var namespace string
	if group.Valid {
		namespace = GroupNamespace(group.Name)
	}
	if err := c.removeSecret(ctx, sec, namespace, false); err != nil {
		return err
	}
	c.logger.Info("deleted secret",
		logging.Operation("secret.delete"), logging.Secret(sec.ID), logging.UserID(caller.ID))
	return nil
}

// deployTarget resolves a (group, cluster) pair and verifies the caller's
// group may place workloads there.
func (c *Commands) deployTarget(ctx context.Context, caller store.User, groupRef, clusterRef string) (store.Group, store.Cluster, error) {
	g, err := c.store.FindGroup(ctx, groupRef)
	if err != nil {
		return store.Group{}, store.Cluster{}, apierr.Store(err)
	}
	if !g.Valid {
		return store.Group{}, store.Cluster{}, apierr.NotFound("Group")
	}
	cl, err := c.store.FindCluster(ctx, clusterRef)
	if err != nil {
		return store.Group{}, store.Cluster{}, apierr.Store(err)
	}
	if !cl.Valid {
		return store.Group{}, store.Cluster{}, apierr.NotFound("Cluster")
	}
	if err := c.auth.MayDeploy(ctx, caller, g, cl); err != nil {
		return store.Group{}, store.Cluster{}, err
	}
	return g, cl, nil
}

// removeSecret deletes the Kubernetes object and then the record. force
// removes the record even when the cluster cannot be reached, which is
// how cascades converge. An empty namespace skips the object and removes
// only the record.
func (c *Commands) removeSecret(ctx context.Context, sec store.Secret, namespace string, force bool) error {
	handle, err := c.store.ClusterConfigPath(ctx, sec.ClusterID)
	if err != nil {
		if !force {
			return apierr.Store(err)
		}
		if derr := c.store.DeleteSecret(ctx, sec.ID); derr != nil {
			err = multierror.Append(err, derr)
		}
		return err
	}
	defer handle.Release()
	return c.removeSecretWithConfig(ctx, handle.Path(), sec, namespace, force)
}

// removeSecretWithConfig is removeSecret under an already materialized
// kubeconfig, for cascades that pinned one before dropping the cluster
// record.
func (c *Commands) removeSecretWithConfig(ctx context.Context, kubeconfig string, sec store.Secret, namespace string, force bool) error {
	var kubeErr error
	if namespace != "" {
		kubeErr = c.kubectl.Delete(ctx, kubeconfig, namespace, "secret", sec.Name)
	}
	if kubeErr != nil && !force {
		return kubeErr
	}
	if err := c.store.DeleteSecret(ctx, sec.ID); err != nil {
		return multierror.Append(kubeErr, err).ErrorOrNil()
	}
	return kubeErr
}
