// Package commands implements the business operations behind the REST
// surface. Every executor takes the authenticated caller and a validated
// request, consults the authorizer, drives the store, and synchronizes
// cluster state through the helm and kubectl clients. Executors return
// typed results; the API layer owns envelope rendering.
package commands

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	corev1 "k8s.io/api/core/v1"

	"github.com/slateci/slate-api-server/internal/auth"
	"github.com/slateci/slate-api-server/internal/catalog"
	"github.com/slateci/slate-api-server/internal/dns"
	"github.com/slateci/slate-api-server/internal/kube"
	"github.com/slateci/slate-api-server/internal/store"
)

// namespacePrefix stems every group's namespace on every cluster. The
// prefix is also why group names reserve "slate-": a group may never
// collide with platform namespaces.
const namespacePrefix = "slate-group-"

// reservedNamePrefix is refused in group and cluster names.
const reservedNamePrefix = "slate-"

// maxGroupNameLength keeps group namespaces well under the Kubernetes
// 63-character label ceiling.
const maxGroupNameLength = 54

// maxInstanceNameLength is the Kubernetes label ceiling; helm release
// names beyond it are rejected by some tiller versions only after partial
// work, so it is enforced up front.
const maxInstanceNameLength = 63

// GroupNamespace returns the namespace a group's workloads occupy on every
// cluster it uses.
func GroupNamespace(groupName string) string {
	return namespacePrefix + groupName
}

// ReleaseSelector is the label selector locating the pods and services of
// one application instance.
func ReleaseSelector(instanceName string) string {
	return "release=" + instanceName
}

// HelmClient is the subset of the helm driver the executors use.
type HelmClient interface {
	Install(ctx context.Context, kubeconfig, chart, release, namespace, valuesFile string) error
	Delete(ctx context.Context, kubeconfig, release string) error
	List(ctx context.Context, kubeconfig, release string) (kube.Release, bool, error)
}

// KubectlClient is the subset of the kubectl driver the executors use.
type KubectlClient interface {
	ApplyManifest(ctx context.Context, kubeconfig, namespace, manifest string) error
	CreateNamespace(ctx context.Context, kubeconfig, name string) error
	DeleteNamespace(ctx context.Context, kubeconfig, name string) error
	Delete(ctx context.Context, kubeconfig, namespace, kind, name string) error
	GetPods(ctx context.Context, kubeconfig, namespace, selector string) ([]corev1.Pod, error)
	PodLogs(ctx context.Context, kubeconfig, namespace, pod, container string, tailLines int, previous bool) (string, error)
	DeletePods(ctx context.Context, kubeconfig, namespace, selector string) error
	ScaleDeployment(ctx context.Context, kubeconfig, namespace, name string, replicas int) error
	ServiceAddresses(ctx context.Context, kubeconfig, namespace, selector string) ([]string, error)
	Reachable(ctx context.Context, kubeconfig string) error
}

// AppCatalog is the subset of the application catalog the executors use.
type AppCatalog interface {
	List(ctx context.Context, repo catalog.Repository) ([]store.Application, error)
	Find(ctx context.Context, repo catalog.Repository, application string) (store.Application, error)
	DefaultValues(ctx context.Context, repo catalog.Repository, application string) (string, error)
	Chart(repo catalog.Repository, application string) (string, error)
}

// Commands executes the platform's business operations.
type Commands struct {
	store     *store.Store
	auth      *auth.Authorizer
	helm      HelmClient
	kubectl   KubectlClient
	catalog   AppCatalog
	dns       *dns.Manager
	secretKey []byte
	ids       store.IDGenerator
	validate  *validator.Validate
	fanLimit  int
	logger    *slog.Logger
}

// Option configures optional collaborators on Commands.
type Option func(*Commands)

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Commands) {
		c.logger = logger
	}
}

// WithDNS enables DNS publication of instance service addresses. Without
// it instances are reachable by IP only.
func WithDNS(manager *dns.Manager) Option {
	return func(c *Commands) {
		c.dns = manager
	}
}

// WithFanoutLimit caps the parallelism of cascade deletions. Zero or
// negative means one worker per CPU.
func WithFanoutLimit(n int) Option {
	return func(c *Commands) {
		c.fanLimit = n
	}
}

// New wires the executors. secretKey is the scryptenc password protecting
// stored secret payloads; the caller keeps ownership of the slice.
func New(st *store.Store, az *auth.Authorizer, helm HelmClient, kubectl KubectlClient, cat AppCatalog, secretKey []byte, opts ...Option) *Commands {
	c := &Commands{
		store:     st,
		auth:      az,
		helm:      helm,
		kubectl:   kubectl,
		catalog:   cat,
		secretKey: secretKey,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// dnsLabel matches one label of a lowercase DNS name.
var dnsLabel = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// validEntityName checks the shared shape of group and cluster names:
// a single lowercase DNS label of bounded length, outside the reserved
// platform prefix.
func validEntityName(name string, maxLen int) bool {
	if name == "" || len(name) > maxLen {
		return false
	}
	if strings.HasPrefix(name, reservedNamePrefix) {
		return false
	}
	return dnsLabel.MatchString(name)
}

// canonicalizeValues strips full-line comments and blank lines from a
// values document before storage. Inline comments stay; removing them
// without a YAML parse risks mangling quoted strings.
func canonicalizeValues(config string) string {
	var out []string
	for _, line := range strings.Split(config, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, line)
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}
