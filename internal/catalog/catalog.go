// Package catalog resolves installable applications from the platform's
// Helm chart repositories. Lookups shell out to helm search and parse the
// rendered table; nothing in this package is persisted.
package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/kube"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/store"
)

// Repository selects the chart repository tier a lookup runs against.
type Repository string

const (
	RepoMain Repository = "main"
	RepoDev  Repository = "dev"
	RepoTest Repository = "test"
)

// Default helm repository names per tier.
const (
	DefaultMainRepo = "slate"
	DefaultDevRepo  = "slate-dev"
	DefaultTestRepo = "slate-test"
)

// Select maps the ?dev and ?test query flags to a tier. test takes
// precedence when both are set.
func Select(dev, test bool) Repository {
	switch {
	case test:
		return RepoTest
	case dev:
		return RepoDev
	default:
		return RepoMain
	}
}

// Helm is the slice of the helm client the catalog drives.
type Helm interface {
	Search(ctx context.Context, term string) (string, error)
	InspectValues(ctx context.Context, chart string) (string, error)
	AddRepo(ctx context.Context, name, url string) error
	UpdateRepos(ctx context.Context) error
}

// Config names the helm repository backing each tier. Zero names take the
// slate defaults. URLs are only needed when Register should add the
// repository to helm's local config at startup.
type Config struct {
	MainRepo    string
	DevRepo     string
	TestRepo    string
	MainRepoURL string
	DevRepoURL  string
	TestRepoURL string
}

func (c Config) withDefaults() Config {
	if c.MainRepo == "" {
		c.MainRepo = DefaultMainRepo
	}
	if c.DevRepo == "" {
		c.DevRepo = DefaultDevRepo
	}
	if c.TestRepo == "" {
		c.TestRepo = DefaultTestRepo
	}
	return c
}

// Catalog answers application lookups against the configured repositories.
type Catalog struct {
	helm   Helm
	logger *slog.Logger
	names  map[Repository]string
	urls   map[Repository]string
}

// New returns a catalog over the helm client.
func New(helm Helm, cfg Config, logger *slog.Logger) *Catalog {
	cfg = cfg.withDefaults()
	return &Catalog{
		helm:   helm,
		logger: logger,
		names: map[Repository]string{
			RepoMain: cfg.MainRepo,
			RepoDev:  cfg.DevRepo,
			RepoTest: cfg.TestRepo,
		},
		urls: map[Repository]string{
			RepoMain: cfg.MainRepoURL,
			RepoDev:  cfg.DevRepoURL,
			RepoTest: cfg.TestRepoURL,
		},
	}
}

// Register adds each tier's repository to helm's local configuration and
// refreshes the chart index. Tiers without a configured URL are assumed to
// be registered out of band.
func (c *Catalog) Register(ctx context.Context) error {
	added := false
	for _, repo := range []Repository{RepoMain, RepoDev, RepoTest} {
		url := c.urls[repo]
		if url == "" {
			continue
		}
		if err := c.helm.AddRepo(ctx, c.names[repo], url); err != nil {
			return err
		}
		c.logger.Info("chart repository registered",
			slog.String("repository", c.names[repo]), slog.String("url", logging.SanitizeHost(url)))
		added = true
	}
	if !added {
		return nil
	}
	return c.helm.UpdateRepos(ctx)
}

// List returns every application in the tier's repository.
func (c *Catalog) List(ctx context.Context, repo Repository) ([]store.Application, error) {
	name, err := c.repoName(repo)
	if err != nil {
		return nil, err
	}
	out, err := c.helm.Search(ctx, name+"/")
	if err != nil {
		return nil, err
	}
	return parseSearchTable(out, name+"/"), nil
}

// Find looks up one application by name. Absence is a zero-valued
// Application with a nil error.
func (c *Catalog) Find(ctx context.Context, repo Repository, application string) (store.Application, error) {
	name, err := c.repoName(repo)
	if err != nil {
		return store.Application{}, err
	}
	out, err := c.helm.Search(ctx, name+"/"+application)
	if err != nil {
		return store.Application{}, err
	}
	// helm search matches by substring, so nginx also surfaces nginx-ldap;
	// keep only the row whose name matches exactly.
	for _, app := range parseSearchTable(out, name+"/") {
		if app.Name == application {
			return app, nil
		}
	}
	c.logger.Debug("application not in repository",
		logging.Application(application), slog.String("repository", name))
	return store.Application{}, nil
}

// DefaultValues returns the chart's default values document.
func (c *Catalog) DefaultValues(ctx context.Context, repo Repository, application string) (string, error) {
	name, err := c.repoName(repo)
	if err != nil {
		return "", err
	}
	return c.helm.InspectValues(ctx, kube.ChartRef(name, application))
}

// Chart returns the repo-qualified chart reference for an install.
func (c *Catalog) Chart(repo Repository, application string) (string, error) {
	name, err := c.repoName(repo)
	if err != nil {
		return "", err
	}
	return kube.ChartRef(name, application), nil
}

func (c *Catalog) repoName(repo Repository) (string, error) {
	name, ok := c.names[repo]
	if !ok {
		return "", apierr.BadRequest("unknown application repository %q", string(repo))
	}
	return name, nil
}

// parseSearchTable turns a helm search table into application summaries.
// Columns are tab-separated with space padding; the first column carries a
// repo/ prefix which is stripped.
func parseSearchTable(output, prefix string) []store.Application {
	var apps []store.Application
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" || strings.HasPrefix(line, "NAME") || strings.HasPrefix(line, "No results") {
			continue
		}
		fields := strings.Split(line, "\t")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(fields) < 4 {
			continue
		}
		apps = append(apps, store.Application{
			Valid:        true,
			Name:         strings.TrimPrefix(fields[0], prefix),
			ChartVersion: fields[1],
			AppVersion:   fields[2],
			Description:  fields[3],
		})
	}
	return apps
}
