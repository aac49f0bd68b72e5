package catalog_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/catalog"
)

type fakeHelm struct {
	tables   map[string]string
	values   map[string]string
	searched []string
	repos    map[string]string
	updates  int
}

func (f *fakeHelm) Search(_ context.Context, term string) (string, error) {
	f.searched = append(f.searched, term)
	out, ok := f.tables[term]
	if !ok {
		return "No results found\n", nil
	}
	return out, nil
}

func (f *fakeHelm) InspectValues(_ context.Context, chart string) (string, error) {
	return f.values[chart], nil
}

func (f *fakeHelm) AddRepo(_ context.Context, name, url string) error {
	if f.repos == nil {
		f.repos = map[string]string{}
	}
	f.repos[name] = url
	return nil
}

func (f *fakeHelm) UpdateRepos(context.Context) error {
	f.updates++
	return nil
}

func newCatalog(helm *fakeHelm, cfg catalog.Config) *catalog.Catalog {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return catalog.New(helm, cfg, logger)
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name      string
		dev, test bool
		want      catalog.Repository
	}{
		{name: "neither flag", want: catalog.RepoMain},
		{name: "dev", dev: true, want: catalog.RepoDev},
		{name: "test", test: true, want: catalog.RepoTest},
		{name: "test wins over dev", dev: true, test: true, want: catalog.RepoTest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, catalog.Select(tc.dev, tc.test))
		})
	}
}

func TestListParsesSearchTable(t *testing.T) {
	helm := &fakeHelm{tables: map[string]string{
		"slate/": "NAME                    \tCHART VERSION\tAPP VERSION\tDESCRIPTION                \n" +
			"slate/nginx             \t1.2.3        \t1.19       \tA basic NGINX HTTP server  \n" +
			"slate/osg-frontier-squid\t0.8.0        \t4.12       \tSquid caching proxy        \n",
	}}
	c := newCatalog(helm, catalog.Config{})

	apps, err := c.List(context.Background(), catalog.RepoMain)
	require.NoError(t, err)
	require.Len(t, apps, 2)

	assert.Equal(t, []string{"slate/"}, helm.searched)
	assert.Equal(t, "nginx", apps[0].Name)
	assert.Equal(t, "1.2.3", apps[0].ChartVersion)
	assert.Equal(t, "1.19", apps[0].AppVersion)
	assert.Equal(t, "A basic NGINX HTTP server", apps[0].Description)
	assert.True(t, apps[0].Valid)
	assert.Equal(t, "osg-frontier-squid", apps[1].Name)
}

func TestListEmptyRepository(t *testing.T) {
	c := newCatalog(&fakeHelm{}, catalog.Config{})

	apps, err := c.List(context.Background(), catalog.RepoDev)
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestListUnknownRepository(t *testing.T) {
	c := newCatalog(&fakeHelm{}, catalog.Config{})

	_, err := c.List(context.Background(), catalog.Repository("weird"))
	assert.ErrorIs(t, err, apierr.ErrBadRequest)
}

func TestFindKeepsOnlyExactName(t *testing.T) {
	helm := &fakeHelm{tables: map[string]string{
		"slate/nginx": "NAME           \tCHART VERSION\tAPP VERSION\tDESCRIPTION        \n" +
			"slate/nginx-ldap\t0.2.0       \t1.19       \tNGINX with LDAP    \n" +
			"slate/nginx     \t1.2.3       \t1.19       \tA basic HTTP server\n",
	}}
	c := newCatalog(helm, catalog.Config{})

	app, err := c.Find(context.Background(), catalog.RepoMain, "nginx")
	require.NoError(t, err)
	require.True(t, app.Valid)
	assert.Equal(t, "nginx", app.Name)
	assert.Equal(t, "1.2.3", app.ChartVersion)
	assert.Equal(t, []string{"slate/nginx"}, helm.searched)
}

func TestFindSubstringMatchesAreNotEnough(t *testing.T) {
	helm := &fakeHelm{tables: map[string]string{
		"slate/nginx": "NAME           \tCHART VERSION\tAPP VERSION\tDESCRIPTION    \n" +
			"slate/nginx-ldap\t0.2.0       \t1.19       \tNGINX with LDAP\n",
	}}
	c := newCatalog(helm, catalog.Config{})

	app, err := c.Find(context.Background(), catalog.RepoMain, "nginx")
	require.NoError(t, err)
	assert.False(t, app.Valid)
}

func TestFindAbsentApplication(t *testing.T) {
	c := newCatalog(&fakeHelm{}, catalog.Config{})

	app, err := c.Find(context.Background(), catalog.RepoTest, "no-such-chart")
	require.NoError(t, err)
	assert.False(t, app.Valid)
}

func TestDefaultValues(t *testing.T) {
	helm := &fakeHelm{values: map[string]string{
		"slate-dev/nginx": "Instance: def\nreplicaCount: 1\n",
	}}
	c := newCatalog(helm, catalog.Config{})

	values, err := c.DefaultValues(context.Background(), catalog.RepoDev, "nginx")
	require.NoError(t, err)
	assert.Equal(t, "Instance: def\nreplicaCount: 1\n", values)
}

func TestChartUsesConfiguredRepoNames(t *testing.T) {
	c := newCatalog(&fakeHelm{}, catalog.Config{MainRepo: "internal-charts"})

	chart, err := c.Chart(catalog.RepoMain, "nginx")
	require.NoError(t, err)
	assert.Equal(t, "internal-charts/nginx", chart)

	chart, err = c.Chart(catalog.RepoTest, "nginx")
	require.NoError(t, err)
	assert.Equal(t, "slate-test/nginx", chart)

	_, err = c.Chart(catalog.Repository("nope"), "nginx")
	assert.ErrorIs(t, err, apierr.ErrBadRequest)
}

func TestRegisterAddsConfiguredRepos(t *testing.T) {
	helm := &fakeHelm{}
	c := newCatalog(helm, catalog.Config{
		MainRepoURL: "https://charts.example.org/main",
		DevRepoURL:  "https://charts.example.org/dev",
	})

	require.NoError(t, c.Register(context.Background()))
	assert.Equal(t, map[string]string{
		"slate":     "https://charts.example.org/main",
		"slate-dev": "https://charts.example.org/dev",
	}, helm.repos)
	assert.Equal(t, 1, helm.updates)
}

func TestRegisterWithoutURLsIsANoOp(t *testing.T) {
	helm := &fakeHelm{}
	c := newCatalog(helm, catalog.Config{})

	require.NoError(t, c.Register(context.Background()))
	assert.Empty(t, helm.repos)
	assert.Zero(t, helm.updates)
}
