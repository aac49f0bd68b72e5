package kube

import (
	"context"
	"fmt"
	"strings"

	"github.com/slateci/slate-api-server/internal/proc"
)

// Helm invokes the helm CLI. The commands follow the v2 surface: releases
// are addressed with --name, deletion purges with --purge, and listings are
// the rendered tab-separated table.
type Helm struct {
	run runner
}

// NewHelm returns a Helm client over the supervisor.
func NewHelm(sup *proc.Supervisor, opts ...Option) *Helm {
	return &Helm{run: runner{sup: sup, settings: newSettings("helm", opts)}}
}

// Release is one row of helm list.
type Release struct {
	Name       string
	Revision   string
	Updated    string
	Status     string
	Chart      string
	AppVersion string
	Namespace  string
}

// Install deploys chart (repo/application) as release in namespace, reading
// overrides from valuesFile.
func (h *Helm) Install(ctx context.Context, kubeconfig, chart, release, namespace, valuesFile string) error {
	res, err := h.run.run(ctx, kubeconfig, []string{
		"install", chart,
		"--name", release,
		"--namespace", namespace,
		"--values", valuesFile,
	}, "")
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return toolError("helm install", res)
	}
	return nil
}

// Delete removes a release. A release that is already gone counts as
// success, making delete idempotent.
func (h *Helm) Delete(ctx context.Context, kubeconfig, release string) error {
	res, err := h.run.run(ctx, kubeconfig, []string{"delete", "--purge", release}, "")
	if err != nil {
		return err
	}
	if res.ExitStatus == 0 {
		return nil
	}
	if releaseGone(combined(res)) {
		return nil
	}
	return toolError("helm delete", res)
}

// releaseGone recognizes helm's not-found wording, `release: "x" not found`.
func releaseGone(output string) bool {
	return strings.Contains(output, "not found")
}

// List looks up one release and reports whether it exists. The parsed row
// feeds the instance detail envelope.
func (h *Helm) List(ctx context.Context, kubeconfig, release string) (Release, bool, error) {
	res, err := h.run.run(ctx, kubeconfig, []string{"list", release}, "")
	if err != nil {
		return Release{}, false, err
	}
	if res.ExitStatus != 0 {
		return Release{}, false, toolError("helm list", res)
	}
	rel, ok := parseReleaseTable(res.Output)
	return rel, ok, nil
}

// parseReleaseTable extracts the first data row of a helm list table. The
// columns are tab-separated; the Updated column contains spaces.
func parseReleaseTable(output string) (Release, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" || strings.HasPrefix(line, "NAME") {
			continue
		}
		fields := strings.Split(line, "\t")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(fields) < 7 {
			continue
		}
		return Release{
			Name:       fields[0],
			Revision:   fields[1],
			Updated:    fields[2],
			Status:     fields[3],
			Chart:      fields[4],
			AppVersion: fields[5],
			Namespace:  fields[6],
		}, true
	}
	return Release{}, false
}

// Search returns the rendered search table for a term. `repo/` lists a whole
// repository, `repo/name` matches by substring; the catalog parses the table
// and applies its own exact-match rules.
func (h *Helm) Search(ctx context.Context, term string) (string, error) {
	res, err := h.run.run(ctx, "", []string{"search", term}, "")
	if err != nil {
		return "", err
	}
	if res.ExitStatus != 0 {
		return "", toolError("helm search", res)
	}
	return res.Output, nil
}

// InspectValues returns the chart's default values document.
func (h *Helm) InspectValues(ctx context.Context, chart string) (string, error) {
	res, err := h.run.run(ctx, "", []string{"inspect", "values", chart}, "")
	if err != nil {
		return "", err
	}
	if res.ExitStatus != 0 {
		return "", toolError("helm inspect", res)
	}
	return res.Output, nil
}

// AddRepo registers a chart repository under the given name. Adding the
// same name and URL again succeeds.
func (h *Helm) AddRepo(ctx context.Context, name, url string) error {
	res, err := h.run.run(ctx, "", []string{"repo", "add", name, url}, "")
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return toolError("helm repo add", res)
	}
	return nil
}

// UpdateRepos refreshes the local chart index for every registered
// repository.
func (h *Helm) UpdateRepos(ctx context.Context) error {
	res, err := h.run.run(ctx, "", []string{"repo", "update"}, "")
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return toolError("helm repo update", res)
	}
	return nil
}

// ChartRef composes the repo-qualified chart reference helm expects.
func ChartRef(repo, application string) string {
	return fmt.Sprintf("%s/%s", repo, application)
}
