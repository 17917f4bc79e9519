package service

import (
	"context"
	"fmt"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// DatabaseMode selects where a database runs.
type DatabaseMode string

const (
	// DatabaseModeManaged databases are provisioned by the cloud provider.
	DatabaseModeManaged DatabaseMode = "MANAGED"

	// DatabaseModeContainer databases run in-cluster from a chart.
	DatabaseModeContainer DatabaseMode = "CONTAINER"
)

// DatabaseTypePostgreSQL is the only database type supported.
const DatabaseTypePostgreSQL = "postgresql"

// managed database names are limited to 63 characters, 3 of which are
// taken by the StatefulSet pod suffix
const maxDatabaseNameLength = 63 - 3

// ProviderControl is the cloud provider side of managed databases.
type ProviderControl interface {
	// Provision creates or updates the managed instance.
	Provision(ctx context.Context, db *Database, values Values) error

	// Deprovision deletes the managed instance. values carries
	// skip_final_snapshot and final_snapshot_name.
	Deprovision(ctx context.Context, db *Database, values Values) error

	// ScaleDown stops the managed instance.
	ScaleDown(ctx context.Context, db *Database) error
}

// Database is a stateful PostgreSQL service, either managed by the cloud
// provider or running in-cluster.
type Database struct {
	Meta `yaml:",inline"`

	Version            string       `json:"version" yaml:"version" validate:"required"`
	Mode               DatabaseMode `json:"mode" yaml:"mode" validate:"required,oneof=MANAGED CONTAINER"`
	FQDN               string       `json:"fqdn" yaml:"fqdn" validate:"omitempty,fqdn"`
	FQDNID             string       `json:"fqdn_id" yaml:"fqdn_id"`
	Login              string       `json:"login" yaml:"login" validate:"required"`
	Password           string       `json:"password" yaml:"password" validate:"required"`
	Port               int          `json:"port" yaml:"port" validate:"required,min=1,max=65535"`
	DiskSizeInGiB      int          `json:"disk_size_in_gib" yaml:"disk_size_in_gib" validate:"min=1"`
	DiskType           string       `json:"disk_type,omitempty" yaml:"disk_type,omitempty"`
	InstanceType       string       `json:"instance_type,omitempty" yaml:"instance_type,omitempty"`
	CPU                string       `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	RAMInMiB           int          `json:"ram_in_mib,omitempty" yaml:"ram_in_mib,omitempty" validate:"min=0"`
	PubliclyAccessible bool         `json:"publicly_accessible" yaml:"publicly_accessible"`
	EncryptDisk        bool         `json:"encrypt_disk" yaml:"encrypt_disk"`

	// FinalDelete removes the volumes and skips the final snapshot.
	FinalDelete bool `json:"final_delete" yaml:"final_delete"`
}

var _ Resource = (*Database)(nil)

// IsManaged reports whether the cloud provider runs the database.
func (d *Database) IsManaged() bool {
	return d.Mode == DatabaseModeManaged
}

// Capabilities implements Resource.
func (d *Database) Capabilities() Capabilities {
	caps := Capabilities{
		Kind:              KindDatabase,
		Stateful:          true,
		ManagedExternally: d.IsManaged(),
		MinInstances:      1,
		MaxInstances:      1,
	}
	if d.FQDN != "" {
		caps.Domains = []string{d.FQDN}
	}
	return caps
}

// Transmitter implements Resource.
func (d *Database) Transmitter() telemetry.Transmitter {
	return telemetry.TransmitterDatabase(d.ResourceID, DatabaseTypePostgreSQL, d.ResourceName)
}

// SanitizedName implements Resource.
func (d *Database) SanitizedName() string {
	return ManagedDBNameSanitizer(maxDatabaseNameLength, "postgresql", d.ResourceName)
}

// Selector implements Resource.
func (d *Database) Selector() string {
	return "app=" + d.SanitizedName()
}

// ReleaseName implements Resource.
func (d *Database) ReleaseName() string {
	return Cut("postgresql-"+d.ResourceID, 50)
}

// ResolvedVersion returns the version to deploy.
func (d *Database) ResolvedVersion() (string, error) {
	return PostgresVersion(d.Version, d.IsManaged())
}

// FinalSnapshotName is the snapshot taken when a managed database is
// deleted.
func FinalSnapshotName(id string) string {
	return fmt.Sprintf("%s-final-snap", id)
}

// chartPath is the in-cluster chart, or the external name service pointing
// at the managed instance.
func (d *Database) chartPath(t *Target) string {
	if d.IsManaged() {
		return t.chartPath("external-name-svc")
	}
	return t.chartPath(DatabaseTypePostgreSQL)
}

// TemplateContext implements Resource.
func (d *Database) TemplateContext(_ context.Context, t *Target) (Values, error) {
	return d.templateContext(t, d.FinalDelete)
}

func (d *Database) templateContext(t *Target, final bool) (Values, error) {
	version, err := d.ResolvedVersion()
	if err != nil {
		return nil, err
	}
	values := baseContext(d, t)
	values["version"] = version
	values["fqdn_id"] = d.FQDNID
	values["fqdn"] = d.FQDN
	values["service_name"] = d.FQDNID
	values["database_name"] = d.SanitizedName()
	values["database_db_name"] = d.ResourceName
	values["database_login"] = d.Login
	values["database_password"] = d.Password
	values["database_port"] = d.Port
	values["database_disk_size_in_gib"] = d.DiskSizeInGiB
	values["database_instance_type"] = d.InstanceType
	values["database_disk_type"] = d.DiskType
	values["encrypt_disk"] = d.EncryptDisk
	values["database_ram_size_in_mib"] = d.RAMInMiB
	values["database_total_cpus"] = d.CPU
	values["database_id"] = d.ResourceID
	values["publicly_accessible"] = d.PubliclyAccessible
	values["skip_final_snapshot"] = final
	values["final_snapshot_name"] = FinalSnapshotName(d.ResourceID)
	values["delete_automated_backups"] = t.Cluster.IsTestCluster
	return values, nil
}

func (d *Database) provider(t *Target) (ProviderControl, error) {
	if t.Provider == nil {
		return nil, engine.NewUnsupportedError(fmt.Sprintf(
			"managed database %s requires a cloud provider", d.ResourceName)).WithResource(d.ResourceID)
	}
	return t.Provider, nil
}

// OnCreate provisions the database and waits for its domain. A managed
// database is provisioned by the provider and exposed in-cluster through
// an external name service.
func (d *Database) OnCreate(ctx context.Context, t *Target) error {
	values, files, err := render(ctx, d, t)
	if err != nil {
		return err
	}
	if d.IsManaged() {
		provider, err := d.provider(t)
		if err != nil {
			return err
		}
		if err := provider.Provision(ctx, d, values); err != nil {
			return err
		}
	}
	if err := deployRelease(ctx, t, d, d.chartPath(t), 0, files); err != nil {
		return err
	}
	return d.checkDomain(ctx, t)
}

// checkDomain blocks until the public FQDN resolves. Private databases are
// not resolvable from outside the cluster and are not checked.
func (d *Database) checkDomain(ctx context.Context, t *Target) error {
	if !d.PubliclyAccessible || d.FQDN == "" || t.Resolver == nil {
		return nil
	}
	if _, err := lookupHost(ctx, t, d.FQDN); err != nil {
		return engine.NewPermanentError(fmt.Sprintf("database %s domain %s is not resolvable", d.ResourceName, d.FQDN), err).
			WithCode(ErrCodeDomainNotResolvable).
			WithResource(d.ResourceID).
			WithFullDetails(err.Error())
	}
	t.infof(d, telemetry.StepDeploy, "Domain %s is ready.", d.FQDN)
	return nil
}

// OnCreateCheck rejects versions the target does not support.
func (d *Database) OnCreateCheck(context.Context, *Target) error {
	_, err := d.ResolvedVersion()
	return err
}

// OnCreateError removes an in-cluster release left in a failed state.
func (d *Database) OnCreateError(ctx context.Context, t *Target) error {
	if d.IsManaged() {
		return nil
	}
	return cleanupFailedRelease(ctx, t, d, d.chartPath(t))
}

// OnPause stops the database. Managed databases are stopped by the
// provider when one is configured.
func (d *Database) OnPause(ctx context.Context, t *Target) error {
	if !d.IsManaged() {
		return scaleDown(ctx, t, d, engine.WorkloadStatefulSet)
	}
	if t.Provider == nil {
		t.infof(d, telemetry.StepPause, "database %s is managed externally, nothing to pause", d.ResourceName)
		return nil
	}
	return t.Provider.ScaleDown(ctx, d)
}

// OnPauseCheck implements Resource.
func (d *Database) OnPauseCheck(context.Context, *Target) error { return nil }

// OnPauseError implements Resource.
func (d *Database) OnPauseError(context.Context, *Target) error { return nil }

// OnDelete deletes the database. Unless FinalDelete is set, a managed
// instance keeps a final snapshot and in-cluster volumes are kept.
func (d *Database) OnDelete(ctx context.Context, t *Target) error {
	return d.delete(ctx, t, d.FinalDelete)
}

func (d *Database) delete(ctx context.Context, t *Target, final bool) error {
	if d.IsManaged() {
		provider, err := d.provider(t)
		if err != nil {
			return err
		}
		values, err := d.templateContext(t, final)
		if err != nil {
			return engine.AnnotateResource(err, telemetry.StepLoadConfiguration, d.ResourceID)
		}
		if err := provider.Deprovision(ctx, d, values); err != nil {
			return err
		}
		return deleteRelease(ctx, t, d, d.chartPath(t), false)
	}
	return deleteRelease(ctx, t, d, d.chartPath(t), final)
}

// OnDeleteCheck implements Resource.
func (d *Database) OnDeleteCheck(context.Context, *Target) error { return nil }

// OnDeleteError implements Resource.
func (d *Database) OnDeleteError(context.Context, *Target) error { return nil }
