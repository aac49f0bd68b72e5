package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/catalog"
	"github.com/slateci/slate-api-server/internal/kube"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/store"
)

// tagKey is the values key naming one installation of an application. It
// disambiguates several instances of the same chart for the same group.
const tagKey = "Instance"

// tagPattern admits lowercase alphanumerics and dashes. A trailing dash is
// refused separately so the composed instance name stays a DNS label.
var tagPattern = regexp.MustCompile(`^[a-z0-9-]*$`)

// InstallRequest deploys an application for a group onto a cluster.
// Configuration is the values document; empty means chart defaults.
type InstallRequest struct {
	Application   string `validate:"required"`
	Repository    catalog.Repository
	GroupRef      string `json:"group" validate:"required"`
	ClusterRef    string `json:"cluster" validate:"required"`
	Configuration string `json:"configuration"`
}

// InstallResult is the created instance plus what helm reported about the
// fresh release.
type InstallResult struct {
	Instance store.ApplicationInstance
	Release  kube.Release
}

// ListApplications returns the catalog of the selected repository tier.
func (c *Commands) ListApplications(ctx context.Context, caller store.User, repo catalog.Repository) ([]store.Application, error) {
	return c.catalog.List(ctx, repo)
}

// ApplicationValues returns a catalog entry and its default values
// document.
func (c *Commands) ApplicationValues(ctx context.Context, caller store.User, repo catalog.Repository, name string) (store.Application, string, error) {
	app, err := c.catalog.Find(ctx, repo, name)
	if err != nil {
		return store.Application{}, "", err
	}
	if !app.Valid {
		return store.Application{}, "", apierr.NotFound("Application")
	}
	values, err := c.catalog.DefaultValues(ctx, repo, name)
	if err != nil {
		return store.Application{}, "", err
	}
	return app, values, nil
}

// Install deploys an application instance. The record is written before
// helm runs and removed again if helm fails, so callers only ever observe
// deployed instances; a half-created release is purged on the way out.
func (c *Commands) Install(ctx context.Context, caller store.User, req InstallRequest) (InstallResult, error) {
	if err := c.validate.Struct(req); err != nil {
		return InstallResult{}, apierr.BadRequest("invalid install request: %v", err)
	}

	app, err := c.catalog.Find(ctx, req.Repository, req.Application)
	if err != nil {
		return InstallResult{}, err
	}
	if !app.Valid {
		return InstallResult{}, apierr.NotFound("Application")
	}

	tag, err := c.resolveTag(ctx, req.Repository, app.Name, req.Configuration)
	if err != nil {
		return InstallResult{}, err
	}

	group, err := c.store.FindGroup(ctx, req.GroupRef)
	if err != nil {
		return InstallResult{}, apierr.Store(err)
	}
	if !group.Valid {
		return InstallResult{}, apierr.NotFound("Group")
	}
	cluster, err := c.store.FindCluster(ctx, req.ClusterRef)
	if err != nil {
		return InstallResult{}, apierr.Store(err)
	}
	if !cluster.Valid {
		return InstallResult{}, apierr.NotFound("Cluster")
	}
	if err := c.auth.MayInstall(ctx, caller, group, cluster, app.Name); err != nil {
		return InstallResult{}, err
	}

	name := group.Name + "-" + app.Name
	if tag != "" {
		name += "-" + tag
	}
	if len(name) > maxInstanceNameLength {
		return InstallResult{}, apierr.BadRequest("instance name %q exceeds %d characters; shorten the instance tag", name, maxInstanceNameLength)
	}

	inst := store.ApplicationInstance{
		ID:            c.ids.NewInstanceID(),
		Name:          name,
		Application:   app.Name,
		OwningGroupID: group.ID,
		ClusterID:     cluster.ID,
		Config:        canonicalizeValues(req.Configuration),
		Created:       time.Now().UTC(),
	}
	if err := c.store.AddInstance(ctx, inst); err != nil {
		if errors.Is(err, store.ErrNameInUse) {
			return InstallResult{}, apierr.Conflict("an instance named %q already exists", name)
		}
		return InstallResult{}, apierr.Store(err)
	}

	result, err := c.installRelease(ctx, group, cluster, app, req, inst)
	if err != nil {
		// The record must not outlive a failed install; neither may a
		// half-created release.
		if derr := c.store.DeleteInstance(ctx, inst.ID); derr != nil {
			c.logger.Error("rollback of instance record failed",
				logging.Instance(inst.Name), logging.Err(derr))
		}
		return InstallResult{}, err
	}
	return result, nil
}

// installRelease runs helm for an already recorded instance and cleans up
// the release if helm fails.
func (c *Commands) installRelease(ctx context.Context, group store.Group, cluster store.Cluster, app store.Application, req InstallRequest, inst store.ApplicationInstance) (InstallResult, error) {
	chart, err := c.catalog.Chart(req.Repository, app.Name)
	if err != nil {
		return InstallResult{}, err
	}
	handle, err := c.store.ClusterConfigPath(ctx, cluster.ID)
	if err != nil {
		return InstallResult{}, apierr.Store(err)
	}
	defer handle.Release()

	namespace := GroupNamespace(group.Name)
	if err := c.kubectl.CreateNamespace(ctx, handle.Path(), namespace); err != nil {
		return InstallResult{}, err
	}

	valuesFile, cleanup, err := writeValuesFile(req.Configuration)
	if err != nil {
		return InstallResult{}, err
	}
	defer cleanup()

	if err := c.helm.Install(ctx, handle.Path(), chart, inst.Name, namespace, valuesFile); err != nil {
		c.logger.Warn("helm install failed",
			logging.Operation("app.install"), logging.Instance(inst.Name),
			logging.Cluster(cluster.Name), logging.Err(err))
		if perr := c.helm.Delete(ctx, handle.Path(), inst.Name); perr != nil {
			c.logger.Warn("purge of failed release also failed",
				logging.Instance(inst.Name), logging.Err(perr))
		}
		return InstallResult{}, err
	}

	result := InstallResult{Instance: inst}
	if rel, found, err := c.helm.List(ctx, handle.Path(), inst.Name); err != nil {
		c.logger.Warn("helm release lookup after install failed",
			logging.Instance(inst.Name), logging.Err(err))
	} else if found {
		result.Release = rel
	}
	c.publishDNS(ctx, handle.Path(), namespace, inst)

	c.logger.Info("installed application",
		logging.Operation("app.install"), logging.Application(app.Name),
		logging.Instance(inst.Name), logging.Group(group.Name), logging.Cluster(cluster.Name))
	return result, nil
}

// resolveTag determines the instance tag: the configuration's value wins,
// then the chart's default; a chart that never names one cannot be
// installed without an explicit tag.
func (c *Commands) resolveTag(ctx context.Context, repo catalog.Repository, application, configuration string) (string, error) {
	tag, found, err := extractTag(configuration)
	if err != nil {
		return "", apierr.BadRequest("configuration does not parse as YAML: %v", err)
	}
	if !found {
		defaults, derr := c.catalog.DefaultValues(ctx, repo, application)
		if derr != nil {
			return "", derr
		}
		tag, found, err = extractTag(defaults)
		if err != nil || !found {
			return "", apierr.BadRequest("no instance tag: the configuration does not set %s and the chart has no default", tagKey)
		}
	}
	if !tagPattern.MatchString(tag) {
		return "", apierr.BadRequest("instance tag %q may contain only lowercase letters, digits and dashes", tag)
	}
	if strings.HasSuffix(tag, "-") {
		return "", apierr.BadRequest("instance tag %q may not end with a dash", tag)
	}
	return tag, nil
}

// extractTag scans a multi-document YAML stream for a top-level scalar
// under the tag key.
func extractTag(configuration string) (string, bool, error) {
	dec := yaml.NewDecoder(strings.NewReader(configuration))
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		raw, ok := doc[tagKey]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			return v, true, nil
		case int, int64, float64, bool:
			return fmt.Sprintf("%v", v), true, nil
		case nil:
			return "", true, nil
		default:
			return "", false, fmt.Errorf("%s must be a scalar", tagKey)
		}
	}
}

// writeValuesFile materializes the configuration for helm's --values flag.
// The cleanup removes the file; values may hold credentials and must not
// linger in the temp directory.
func writeValuesFile(configuration string) (string, func(), error) {
	f, err := os.CreateTemp("", "slate-values-*.yaml")
	if err != nil {
		return "", nil, apierr.Store(fmt.Errorf("creating values file: %w", err))
	}
	name := f.Name()
	cleanup := func() { os.Remove(name) }
	if _, err := f.WriteString(configuration); err != nil {
		f.Close()
		cleanup()
		return "", nil, apierr.Store(fmt.Errorf("writing values file: %w", err))
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, apierr.Store(fmt.Errorf("writing values file: %w", err))
	}
	return name, cleanup, nil
}
