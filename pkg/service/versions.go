package service

import (
	"fmt"

	"github.com/openfroyo/deployengine/pkg/engine"
)

// VersionTable maps a requested version to the version to deploy.
type VersionTable map[string]string

// GenerateSupportedVersions returns the table of major.minor versions from
// minMinor to maxMinor. The bare major resolves to the newest minor. With
// withPatch every version is resolved to its .0 patch release, which is
// also accepted as a key.
func GenerateSupportedVersions(major, minMinor, maxMinor int, withPatch bool) VersionTable {
	table := VersionTable{}
	resolve := func(minor int) string {
		if withPatch {
			return fmt.Sprintf("%d.%d.0", major, minor)
		}
		return fmt.Sprintf("%d.%d", major, minor)
	}
	for minor := minMinor; minor <= maxMinor; minor++ {
		table[fmt.Sprintf("%d.%d", major, minor)] = resolve(minor)
		if withPatch {
			table[fmt.Sprintf("%d.%d.0", major, minor)] = resolve(minor)
		}
	}
	table[fmt.Sprint(major)] = resolve(maxMinor)
	return table
}

// Remove drops versions from the table. The bare major keeps pointing at
// the newest minor, which must not be removed.
func (t VersionTable) Remove(versions ...string) VersionTable {
	for _, v := range versions {
		delete(t, v)
	}
	return t
}

// Merge adds every entry of other.
func (t VersionTable) Merge(other VersionTable) VersionTable {
	for k, v := range other {
		t[k] = v
	}
	return t
}

// Resolve returns the version to deploy for requested.
func (t VersionTable) Resolve(product, requested string) (string, error) {
	if v, ok := t[requested]; ok {
		return v, nil
	}
	return "", engine.NewUnsupportedError(fmt.Sprintf("%s %s version is not supported", product, requested))
}

// managedPostgresVersions are the versions offered by the managed database
// service.
var managedPostgresVersions = VersionTable{}.
	Merge(GenerateSupportedVersions(10, 1, 18, false).Remove("10.2", "10.8")).
	Merge(GenerateSupportedVersions(11, 1, 13, false).Remove("11.3")).
	Merge(GenerateSupportedVersions(12, 2, 8, false)).
	Merge(GenerateSupportedVersions(13, 1, 4, false))

// selfHostedPostgresVersions are the versions of the in-cluster chart.
var selfHostedPostgresVersions = VersionTable{}.
	Merge(GenerateSupportedVersions(10, 1, 16, true)).
	Merge(GenerateSupportedVersions(11, 1, 11, true)).
	Merge(GenerateSupportedVersions(12, 2, 8, true)).
	Merge(GenerateSupportedVersions(13, 1, 4, true))

// PostgresVersion resolves requested against the managed or self-hosted
// table.
func PostgresVersion(requested string, managed bool) (string, error) {
	if managed {
		return managedPostgresVersions.Resolve("Postgresql", requested)
	}
	return selfHostedPostgresVersions.Resolve("Postgresql", requested)
}
