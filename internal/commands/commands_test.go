package commands_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/slateci/slate-api-server/internal/auth"
	"github.com/slateci/slate-api-server/internal/catalog"
	"github.com/slateci/slate-api-server/internal/commands"
	"github.com/slateci/slate-api-server/internal/kube"
	"github.com/slateci/slate-api-server/internal/store"
	"github.com/slateci/slate-api-server/internal/store/storetest"
)

// testKubeconfig parses under clientcmd and names one cluster.
const testKubeconfig = `apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://cluster.example.edu:6443
  name: test
contexts:
- context:
    cluster: test
    user: admin
  name: test
current-context: test
users:
- name: admin
  user:
    token: abc123
`

type helmInstall struct {
	kubeconfig string
	chart      string
	release    string
	namespace  string
	valuesFile string
}

// fakeHelm is an in-process HelmClient tracking a release table.
type fakeHelm struct {
	mu         sync.Mutex
	installs   []helmInstall
	deletes    []string
	installErr error
	deleteErr  error
	releases   map[string]kube.Release
}

func (f *fakeHelm) Install(_ context.Context, kubeconfig, chart, release, namespace, valuesFile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = append(f.installs, helmInstall{kubeconfig, chart, release, namespace, valuesFile})
	if f.installErr != nil {
		return f.installErr
	}
	if f.releases == nil {
		f.releases = map[string]kube.Release{}
	}
	f.releases[release] = kube.Release{
		Name: release, Revision: "1", Updated: "Tue Aug 25 10:00:00 2026",
		Status: "DEPLOYED", Chart: chart, AppVersion: "1.0", Namespace: namespace,
	}
	return nil
}

func (f *fakeHelm) Delete(_ context.Context, _, release string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, release)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.releases, release)
	return nil
}

func (f *fakeHelm) List(_ context.Context, _, release string) (kube.Release, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, ok := f.releases[release]
	return rel, ok, nil
}

func (f *fakeHelm) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeHelm) deployed(release string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.releases[release]
	return ok
}

// fakeKubectl is an in-process KubectlClient recording mutations.
type fakeKubectl struct {
	mu                sync.Mutex
	createdNamespaces []string
	deletedNamespaces []string
	applied           []string
	deletedObjects    []string
	deletedPodSels    []string
	scaled            map[string]int
	pods              []corev1.Pod
	logs              map[string]string
	addresses         []string
	applyErr          error
	deleteErr         error
	podsErr           error
	reachableErr      error
}

func (f *fakeKubectl) ApplyManifest(_ context.Context, _, namespace, manifest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, namespace+"\n"+manifest)
	return nil
}

func (f *fakeKubectl) CreateNamespace(_ context.Context, _, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdNamespaces = append(f.createdNamespaces, name)
	return nil
}

func (f *fakeKubectl) DeleteNamespace(_ context.Context, _, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedNamespaces = append(f.deletedNamespaces, name)
	return nil
}

func (f *fakeKubectl) Delete(_ context.Context, _, namespace, kind, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedObjects = append(f.deletedObjects, namespace+"/"+kind+"/"+name)
	return nil
}

func (f *fakeKubectl) GetPods(_ context.Context, _, _, _ string) ([]corev1.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.podsErr != nil {
		return nil, f.podsErr
	}
	return f.pods, nil
}

func (f *fakeKubectl) PodLogs(_ context.Context, _, _, pod, container string, _ int, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[pod+"/"+container], nil
}

func (f *fakeKubectl) DeletePods(_ context.Context, _, _, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedPodSels = append(f.deletedPodSels, selector)
	return nil
}

func (f *fakeKubectl) ScaleDeployment(_ context.Context, _, _, name string, replicas int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scaled == nil {
		f.scaled = map[string]int{}
	}
	f.scaled[name] = replicas
	return nil
}

func (f *fakeKubectl) ServiceAddresses(_ context.Context, _, _, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addresses, nil
}

func (f *fakeKubectl) Reachable(_ context.Context, _ string) error {
	return f.reachableErr
}

func (f *fakeKubectl) removedNamespaces() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletedNamespaces...)
}

func (f *fakeKubectl) removedObjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletedObjects...)
}

// fakeCatalog serves a fixed application set regardless of repository.
type fakeCatalog struct {
	apps   map[string]store.Application
	values map[string]string
}

func (f *fakeCatalog) List(context.Context, catalog.Repository) ([]store.Application, error) {
	var out []store.Application
	for _, app := range f.apps {
		out = append(out, app)
	}
	return out, nil
}

func (f *fakeCatalog) Find(_ context.Context, _ catalog.Repository, application string) (store.Application, error) {
	return f.apps[application], nil
}

func (f *fakeCatalog) DefaultValues(_ context.Context, _ catalog.Repository, application string) (string, error) {
	return f.values[application], nil
}

func (f *fakeCatalog) Chart(_ catalog.Repository, application string) (string, error) {
	return "slate/" + application, nil
}

// env assembles a Commands instance over the in-memory database and the
// fakes, plus helpers that seed entities directly through the store.
type env struct {
	t       *testing.T
	store   *store.Store
	helm    *fakeHelm
	kubectl *fakeKubectl
	catalog *fakeCatalog
	cmds    *commands.Commands
	ids     store.IDGenerator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New(storetest.New(), t.TempDir(),
		store.WithLogger(logger),
		store.WithFilesystem(afero.NewMemMapFs()))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := &env{
		t:       t,
		store:   st,
		helm:    &fakeHelm{},
		kubectl: &fakeKubectl{},
		catalog: &fakeCatalog{
			apps: map[string]store.Application{
				"nginx": {Valid: true, Name: "nginx", ChartVersion: "1.2.3", AppVersion: "1.19", Description: "A basic NGINX HTTP server"},
			},
			values: map[string]string{
				"nginx": "Instance: default\nreplicaCount: 1\n",
			},
		},
	}
	e.cmds = commands.New(st, auth.New(st, logger), e.helm, e.kubectl, e.catalog,
		[]byte("unit-test-master-key"),
		commands.WithLogger(logger),
		commands.WithFanoutLimit(2))
	return e
}

func (e *env) addUser(name string, admin bool) store.User {
	e.t.Helper()
	u := store.User{
		ID:          e.ids.NewUserID(),
		Name:        name,
		Email:       name + "@example.edu",
		Phone:       "555-0100",
		Institution: "Test University",
		Token:       e.ids.NewToken(),
		GlobusID:    "globus-" + name,
		Admin:       admin,
	}
	require.NoError(e.t, e.store.AddUser(context.Background(), u))
	u.Valid = true
	return u
}

func (e *env) addGroup(name string, members ...store.User) store.Group {
	e.t.Helper()
	g := store.Group{
		ID:           e.ids.NewGroupID(),
		Name:         name,
		Email:        name + "@example.edu",
		ScienceField: "Physics",
	}
	require.NoError(e.t, e.store.AddGroup(context.Background(), g))
	g.Valid = true
	for _, u := range members {
		require.NoError(e.t, e.store.AddUserToGroup(context.Background(), u.ID, g.ID))
	}
	return g
}

func (e *env) addCluster(name string, owner store.Group) store.Cluster {
	e.t.Helper()
	cl := store.Cluster{
		ID:                 e.ids.NewClusterID(),
		Name:               name,
		Config:             testKubeconfig,
		SystemNamespace:    "slate-system",
		OwningGroupID:      owner.ID,
		OwningOrganization: "Test Org",
	}
	require.NoError(e.t, e.store.AddCluster(context.Background(), cl))
	cl.Valid = true
	return cl
}

func (e *env) addInstance(name, application string, g store.Group, cl store.Cluster) store.ApplicationInstance {
	e.t.Helper()
	inst := store.ApplicationInstance{
		ID:            e.ids.NewInstanceID(),
		Name:          name,
		Application:   application,
		OwningGroupID: g.ID,
		ClusterID:     cl.ID,
		Config:        "Instance: " + name + "\n",
		Created:       time.Now().UTC(),
	}
	require.NoError(e.t, e.store.AddInstance(context.Background(), inst))
	inst.Valid = true
	e.helm.mu.Lock()
	if e.helm.releases == nil {
		e.helm.releases = map[string]kube.Release{}
	}
	e.helm.releases[name] = kube.Release{Name: name, Revision: "1", Status: "DEPLOYED"}
	e.helm.mu.Unlock()
	return inst
}

func (e *env) createSecret(caller store.User, name string, g store.Group, cl store.Cluster) store.Secret {
	e.t.Helper()
	sec, err := e.cmds.CreateSecret(context.Background(), caller, commands.CreateSecretRequest{
		Name:       name,
		GroupRef:   g.ID,
		ClusterRef: cl.ID,
		Contents:   map[string]string{"password": "aHVudGVyMg=="},
	})
	require.NoError(e.t, err)
	return sec
}
