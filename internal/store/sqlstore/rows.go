package sqlstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/slateci/slate-api-server/internal/store"
)

type userRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Email       string `db:"email"`
	Phone       string `db:"phone"`
	Institution string `db:"institution"`
	Token       string `db:"token"`
	GlobusID    string `db:"globus_id"`
	Admin       bool   `db:"admin"`
}

func userToRow(u store.User) userRow {
	return userRow{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Phone:       u.Phone,
		Institution: u.Institution,
		Token:       u.Token,
		GlobusID:    u.GlobusID,
		Admin:       u.Admin,
	}
}

func (r userRow) toUser() store.User {
	return store.User{
		Valid:       true,
		ID:          r.ID,
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		Institution: r.Institution,
		Token:       r.Token,
		GlobusID:    r.GlobusID,
		Admin:       r.Admin,
	}
}

type groupRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Email        string `db:"email"`
	Phone        string `db:"phone"`
	ScienceField string `db:"science_field"`
	Description  string `db:"description"`
}

func groupToRow(g store.Group) groupRow {
	return groupRow{
		ID:           g.ID,
		Name:         g.Name,
		Email:        g.Email,
		Phone:        g.Phone,
		ScienceField: g.ScienceField,
		Description:  g.Description,
	}
}

func (r groupRow) toGroup() store.Group {
	return store.Group{
		Valid:        true,
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		Phone:        r.Phone,
		ScienceField: r.ScienceField,
		Description:  r.Description,
	}
}

// Cluster locations travel as a JSON array in a text column so the schema
// stays identical across SQLite and PostgreSQL.
type clusterRow struct {
	ID                 string `db:"id"`
	Name               string `db:"name"`
	Config             string `db:"config"`
	SystemNamespace    string `db:"system_namespace"`
	OwningGroupID      string `db:"owning_group_id"`
	OwningOrganization string `db:"owning_organization"`
	Locations          string `db:"locations"`
}

func clusterToRow(c store.Cluster) (clusterRow, error) {
	locations, err := json.Marshal(c.Locations)
	if err != nil {
		return clusterRow{}, fmt.Errorf("encoding locations for cluster %s: %w", c.ID, err)
	}
	return clusterRow{
		ID:                 c.ID,
		Name:               c.Name,
		Config:             c.Config,
		SystemNamespace:    c.SystemNamespace,
		OwningGroupID:      c.OwningGroupID,
		OwningOrganization: c.OwningOrganization,
		Locations:          string(locations),
	}, nil
}

func (r clusterRow) toCluster() (store.Cluster, error) {
	var locations []store.GeoLocation
	if err := json.Unmarshal([]byte(r.Locations), &locations); err != nil {
		return store.Cluster{}, fmt.Errorf("decoding locations for cluster %s: %w", r.ID, err)
	}
	return store.Cluster{
		Valid:              true,
		ID:                 r.ID,
		Name:               r.Name,
		Config:             r.Config,
		SystemNamespace:    r.SystemNamespace,
		OwningGroupID:      r.OwningGroupID,
		OwningOrganization: r.OwningOrganization,
		Locations:          locations,
	}, nil
}

// Timestamps are stored as integer nanoseconds since the epoch, which both
// backends hold in a BIGINT without timezone translation.
type instanceRow struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	Application   string `db:"application"`
	OwningGroupID string `db:"owning_group_id"`
	ClusterID     string `db:"cluster_id"`
	Config        string `db:"config"`
	Created       int64  `db:"created"`
}

func instanceToRow(inst store.ApplicationInstance) instanceRow {
	return instanceRow{
		ID:            inst.ID,
		Name:          inst.Name,
		Application:   inst.Application,
		OwningGroupID: inst.OwningGroupID,
		ClusterID:     inst.ClusterID,
		Config:        inst.Config,
		Created:       inst.Created.UnixNano(),
	}
}

func (r instanceRow) toInstance() store.ApplicationInstance {
	return store.ApplicationInstance{
		Valid:         true,
		ID:            r.ID,
		Name:          r.Name,
		Application:   r.Application,
		OwningGroupID: r.OwningGroupID,
		ClusterID:     r.ClusterID,
		Config:        r.Config,
		Created:       time.Unix(0, r.Created).UTC(),
	}
}

// Secret contents are sealed binary; base64 in a text column keeps the
// schema portable.
type secretRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	GroupID   string `db:"group_id"`
	ClusterID string `db:"cluster_id"`
	Created   int64  `db:"created"`
	Contents  string `db:"contents"`
}

func secretToRow(sec store.Secret) secretRow {
	return secretRow{
		ID:        sec.ID,
		Name:      sec.Name,
		GroupID:   sec.GroupID,
		ClusterID: sec.ClusterID,
		Created:   sec.Created.UnixNano(),
		Contents:  base64.StdEncoding.EncodeToString(sec.Contents),
	}
}

func (r secretRow) toSecret() (store.Secret, error) {
	contents, err := base64.StdEncoding.DecodeString(r.Contents)
	if err != nil {
		return store.Secret{}, fmt.Errorf("decoding contents of secret %s: %w", r.ID, err)
	}
	return store.Secret{
		Valid:     true,
		ID:        r.ID,
		Name:      r.Name,
		GroupID:   r.GroupID,
		ClusterID: r.ClusterID,
		Created:   time.Unix(0, r.Created).UTC(),
		Contents:  contents,
	}, nil
}
