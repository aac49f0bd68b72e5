package api

import (
	"context"
	"time"

	"github.com/slateci/slate-api-server/internal/commands"
	"github.com/slateci/slate-api-server/internal/store"
)

// userMeta is the User envelope payload. The access token travels only
// on single-user responses, never in listings.
type userMeta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Institution string `json:"institution"`
	Admin       bool   `json:"admin"`
	AccessToken string `json:"access_token,omitempty"`
}

type groupMeta struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	ScienceField string `json:"scienceField"`
	Description  string `json:"description"`
}

// clusterMeta reports a cluster without its credentials; the stored
// kubeconfig never leaves the server.
type clusterMeta struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	OwningGroup        string              `json:"owningGroup"`
	OwningOrganization string              `json:"owningOrganization"`
	Location           []store.GeoLocation `json:"location,omitempty"`
}

type instanceMeta struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Application   string `json:"application"`
	Group         string `json:"group"`
	Cluster       string `json:"cluster"`
	Created       string `json:"created"`
	Configuration string `json:"configuration,omitempty"`
}

// instanceObject is the instance detail envelope: the record plus what
// helm and the cluster reported. Status and the runtime fields stay
// empty when the cluster could not be reached.
type instanceObject struct {
	APIVersion string       `json:"apiVersion"`
	Kind       string       `json:"kind"`
	Metadata   instanceMeta `json:"metadata"`
	Status     string       `json:"status,omitempty"`
	Services   []string     `json:"services,omitempty"`
	Pods       []podMeta    `json:"pods,omitempty"`
}

type podMeta struct {
	Name       string          `json:"name"`
	Status     string          `json:"status"`
	HostName   string          `json:"hostName,omitempty"`
	HostIP     string          `json:"hostIP,omitempty"`
	Containers []containerMeta `json:"containers,omitempty"`
}

type containerMeta struct {
	Name         string `json:"name"`
	Image        string `json:"image"`
	Ready        bool   `json:"ready"`
	RestartCount int32  `json:"restartCount"`
	State        string `json:"state,omitempty"`
}

type secretMeta struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Group   string `json:"group"`
	Cluster string `json:"cluster"`
	Created string `json:"created"`
}

// secretObject carries the decrypted contents, base64 per value, on
// single-secret responses only.
type secretObject struct {
	APIVersion string            `json:"apiVersion"`
	Kind       string            `json:"kind"`
	Metadata   secretMeta        `json:"metadata"`
	Contents   map[string]string `json:"contents,omitempty"`
}

type applicationMeta struct {
	Name         string `json:"name"`
	AppVersion   string `json:"appVersion"`
	ChartVersion string `json:"chartVersion"`
	Description  string `json:"description"`
}

// configObject answers the default-values route; Spec is the chart's
// values document verbatim.
type configObject struct {
	APIVersion string     `json:"apiVersion"`
	Kind       string     `json:"kind"`
	Metadata   configMeta `json:"metadata"`
	Spec       string     `json:"spec"`
}

type configMeta struct {
	Name         string `json:"name"`
	AppVersion   string `json:"appVersion,omitempty"`
	ChartVersion string `json:"chartVersion,omitempty"`
}

// accessMeta reports whether one group may deploy on one cluster.
type accessMeta struct {
	Cluster string `json:"cluster"`
	Group   string `json:"group"`
	Allowed bool   `json:"allowed"`
}

// appGrantMeta reports whether one group may install one application on
// one cluster. Cluster and group echo the request's references.
type appGrantMeta struct {
	Cluster     string `json:"cluster"`
	Group       string `json:"group"`
	Application string `json:"application"`
	Allowed     bool   `json:"allowed"`
}

func userMetadata(u store.User, withToken bool) userMeta {
	m := userMeta{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Phone:       u.Phone,
		Institution: u.Institution,
		Admin:       u.Admin,
	}
	if withToken {
		m.AccessToken = u.Token
	}
	return m
}

func userEnvelope(u store.User, withToken bool) object {
	return object{APIVersion: APIVersion, Kind: kindUser, Metadata: userMetadata(u, withToken)}
}

func userItems(users []store.User) []item {
	items := make([]item, 0, len(users))
	for _, u := range users {
		items = append(items, item{Kind: kindUser, Metadata: userMetadata(u, false)})
	}
	return items
}

func groupMetadata(g store.Group) groupMeta {
	return groupMeta{
		ID:           g.ID,
		Name:         g.Name,
		Email:        g.Email,
		Phone:        g.Phone,
		ScienceField: g.ScienceField,
		Description:  g.Description,
	}
}

func groupEnvelope(g store.Group) object {
	return object{APIVersion: APIVersion, Kind: kindGroup, Metadata: groupMetadata(g)}
}

func groupItems(groups []store.Group) []item {
	items := make([]item, 0, len(groups))
	for _, g := range groups {
		items = append(items, item{Kind: kindGroup, Metadata: groupMetadata(g)})
	}
	return items
}

func (s *Server) clusterMetadata(ctx context.Context, cl store.Cluster) clusterMeta {
	return clusterMeta{
		ID:                 cl.ID,
		Name:               cl.Name,
		OwningGroup:        s.groupName(ctx, cl.OwningGroupID),
		OwningOrganization: cl.OwningOrganization,
		Location:           cl.Locations,
	}
}

func (s *Server) clusterEnvelope(ctx context.Context, cl store.Cluster) object {
	return object{APIVersion: APIVersion, Kind: kindCluster, Metadata: s.clusterMetadata(ctx, cl)}
}

func (s *Server) clusterItems(ctx context.Context, clusters []store.Cluster) []item {
	items := make([]item, 0, len(clusters))
	for _, cl := range clusters {
		items = append(items, item{Kind: kindCluster, Metadata: s.clusterMetadata(ctx, cl)})
	}
	return items
}

func (s *Server) instanceMetadata(ctx context.Context, inst store.ApplicationInstance, withConfig bool) instanceMeta {
	m := instanceMeta{
		ID:          inst.ID,
		Name:        inst.Name,
		Application: inst.Application,
		Group:       s.groupName(ctx, inst.OwningGroupID),
		Cluster:     s.clusterName(ctx, inst.ClusterID),
		Created:     inst.Created.UTC().Format(time.RFC3339),
	}
	if withConfig {
		m.Configuration = inst.Config
	}
	return m
}

func (s *Server) instanceItems(ctx context.Context, instances []store.ApplicationInstance) []item {
	items := make([]item, 0, len(instances))
	for _, inst := range instances {
		items = append(items, item{Kind: kindInstance, Metadata: s.instanceMetadata(ctx, inst, false)})
	}
	return items
}

func (s *Server) instanceDetailEnvelope(ctx context.Context, detail commands.InstanceDetail) instanceObject {
	return instanceObject{
		APIVersion: APIVersion,
		Kind:       kindInstance,
		Metadata:   s.instanceMetadata(ctx, detail.Instance, true),
		Status:     detail.Release.Status,
		Services:   detail.Services,
		Pods:       podMetadata(detail.Pods),
	}
}

func podMetadata(pods []commands.PodSummary) []podMeta {
	out := make([]podMeta, 0, len(pods))
	for _, p := range pods {
		containers := make([]containerMeta, 0, len(p.Containers))
		for _, c := range p.Containers {
			containers = append(containers, containerMeta{
				Name:         c.Name,
				Image:        c.Image,
				Ready:        c.Ready,
				RestartCount: c.RestartCount,
				State:        c.State,
			})
		}
		out = append(out, podMeta{
			Name:       p.Name,
			Status:     p.Status,
			HostName:   p.HostName,
			HostIP:     p.HostIP,
			Containers: containers,
		})
	}
	return out
}

func (s *Server) secretMetadata(ctx context.Context, sec store.Secret) secretMeta {
	return secretMeta{
		ID:      sec.ID,
		Name:    sec.Name,
		Group:   s.groupName(ctx, sec.GroupID),
		Cluster: s.clusterName(ctx, sec.ClusterID),
		Created: sec.Created.UTC().Format(time.RFC3339),
	}
}

func (s *Server) secretItems(ctx context.Context, secrets []store.Secret) []item {
	items := make([]item, 0, len(secrets))
	for _, sec := range secrets {
		items = append(items, item{Kind: kindSecret, Metadata: s.secretMetadata(ctx, sec)})
	}
	return items
}

func applicationItems(apps []store.Application) []item {
	items := make([]item, 0, len(apps))
	for _, app := range apps {
		items = append(items, item{Kind: kindApplication, Metadata: applicationMeta{
			Name:         app.Name,
			AppVersion:   app.AppVersion,
			ChartVersion: app.ChartVersion,
			Description:  app.Description,
		}})
	}
	return items
}

// groupName resolves a group ID to its name for display. Envelopes fall
// back to the raw ID when the record is already gone; rendering never
// fails a request.
func (s *Server) groupName(ctx context.Context, id string) string {
	g, err := s.store.GetGroup(ctx, id)
	if err != nil || !g.Valid {
		return id
	}
	return g.Name
}

func (s *Server) clusterName(ctx context.Context, id string) string {
	cl, err := s.store.GetCluster(ctx, id)
	if err != nil || !cl.Valid {
		return id
	}
	return cl.Name
}
