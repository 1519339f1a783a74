package finder

import (
	"reflect"
	"testing"
	"testing/fstest"

	"provenance/internal/core/errors"
	"provenance/internal/engine/catalog"
	"provenance/internal/engine/changelog"
)

const (
	schema19  = "liquibase-snapshots/1.9.x/liquibase-schema-only.xml"
	core19    = "liquibase-snapshots/1.9.x/liquibase-core-data.xml"
	schema21  = "liquibase-snapshots/2.1.x/liquibase-schema-only.xml"
	core21    = "liquibase-snapshots/2.1.x/liquibase-core-data.xml"
	update20  = "liquibase-updates/2.0.x/liquibase-update-to-latest.xml"
	update21  = "liquibase-updates/2.1.x/liquibase-update-to-latest.xml"
	update22  = "liquibase-updates/2.2.x/liquibase-update-to-latest.xml"
	flatBase  = "org/openmrs/liquibase"
	flatUp21  = flatBase + "/updates/liquibase-update-to-latest-2.1.x.xml"
	flatUp22  = flatBase + "/updates/liquibase-update-to-latest-2.2.x.xml"
	flatCore2 = flatBase + "/snapshots/core-data/liquibase-core-data-2.1.x.xml"
)

func newFinder(t *testing.T, files ...string) *Finder {
	t.Helper()
	fsys := fstest.MapFS{}
	for _, f := range files {
		fsys[f] = &fstest.MapFile{}
	}
	c, err := catalog.New(catalog.LayoutSubfolder, fsys, catalog.Options{})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return New(c)
}

func defaultFinder(t *testing.T) *Finder {
	return newFinder(t, schema19, core19, schema21, core21, update20, update21, update22)
}

func TestUpdateVersionsGreaterThan(t *testing.T) {
	f := defaultFinder(t)
	tests := []struct {
		in   string
		want []string
	}{
		{"1.9.x", []string{"2.0.x", "2.1.x", "2.2.x"}},
		{"2.0.x", []string{"2.1.x", "2.2.x"}},
		{"2.2.x", []string{}},
		{"2.1.0 SNAPSHOT Build 12ab34", []string{"2.2.x"}},
		{"2.1.0-12ab34", []string{"2.2.x"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := f.UpdateVersionsGreaterThan(tt.in)
			if err != nil {
				t.Fatalf("greater than: %v", err)
			}
			if len(got) != len(tt.want) || (len(got) > 0 && !reflect.DeepEqual(got, tt.want)) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}

	only22 := newFinder(t, update22)
	got, err := only22.UpdateVersionsGreaterThan("2.0.x")
	if err != nil || !reflect.DeepEqual(got, []string{"2.2.x"}) {
		t.Fatalf("got %v, %v", got, err)
	}
	got, err = only22.UpdateVersionsGreaterThan("2.2.x")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no newer updates, got %v, %v", got, err)
	}
}

func TestUpdateVersionsGreaterThanRejectsBadInput(t *testing.T) {
	f := defaultFinder(t)
	for _, in := range []string{"", "2", "latest"} {
		if _, err := f.UpdateVersionsGreaterThan(in); !errors.IsCode(err, errors.CodeValidationError) {
			t.Errorf("%q: expected validation error, got %v", in, err)
		}
	}
}

func TestUpdateVersionsEqualOrGreaterThan(t *testing.T) {
	f := defaultFinder(t)
	got, err := f.UpdateVersionsEqualOrGreaterThan("2.1.3")
	if err != nil {
		t.Fatalf("equal or greater: %v", err)
	}
	if want := []string{"2.1.x", "2.2.x"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := f.UpdateVersionsEqualOrGreaterThan("1.9.x"); !errors.IsCode(err, errors.CodeValidationError) {
		t.Fatalf("expected input error for unknown update version, got %v", err)
	}
}

func TestUpdateFileNamesPreservesOrder(t *testing.T) {
	f := defaultFinder(t)
	got, err := f.UpdateFileNames([]string{"2.2.x", "2.0.x"})
	if err != nil {
		t.Fatalf("file names: %v", err)
	}
	if want := []string{update22, update20}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSnapshotFileNames(t *testing.T) {
	f := defaultFinder(t)
	got, err := f.SnapshotFileNames("1.2.3")
	if err != nil {
		t.Fatalf("snapshot names: %v", err)
	}
	want := []string{
		"liquibase-snapshots/1.2.3/liquibase-schema-only.xml",
		"liquibase-snapshots/1.2.3/liquibase-core-data.xml",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	files, err := f.SnapshotFiles("1.9.x")
	if err != nil {
		t.Fatalf("snapshot files: %v", err)
	}
	if files[0].Role != changelog.RoleSnapshotSchema || files[1].Role != changelog.RoleSnapshotCoreData {
		t.Fatalf("unexpected roles %+v", files)
	}
}

func TestChangeLogCombinations(t *testing.T) {
	f := defaultFinder(t)
	got, err := f.ChangeLogCombinations()
	if err != nil {
		t.Fatalf("combinations: %v", err)
	}
	want := map[string][]string{
		"1.9.x": {schema19, core19, update20, update21, update22},
		"2.1.x": {schema21, core21, update22},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSnapshotCombinations(t *testing.T) {
	f := defaultFinder(t)
	got, err := f.SnapshotCombinations()
	if err != nil {
		t.Fatalf("combinations: %v", err)
	}
	want := map[string][]string{
		"1.9.x": {schema19, core19},
		"2.1.x": {schema21, core21},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	empty := newFinder(t)
	got, err = empty.SnapshotCombinations()
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty combinations, got %v, %v", got, err)
	}
}

func TestLatestSnapshot(t *testing.T) {
	f := defaultFinder(t)
	v, ok := f.LatestSnapshotVersion()
	if !ok || v != "2.1.x" {
		t.Fatalf("latest = %q, %v", v, ok)
	}
	name, ok := f.LatestSnapshotFilename(changelog.RoleSnapshotSchema)
	if !ok || name != schema21 {
		t.Fatalf("latest schema = %q, %v", name, ok)
	}
	name, ok = f.LatestSnapshotFilename(changelog.RoleSnapshotCoreData)
	if !ok || name != core21 {
		t.Fatalf("latest core data = %q, %v", name, ok)
	}
	if _, ok := f.LatestSnapshotFilename(changelog.RoleUpdate); ok {
		t.Fatal("expected no latest snapshot file for update role")
	}

	empty := newFinder(t)
	if _, ok := empty.LatestSnapshotVersion(); ok {
		t.Fatal("expected no latest snapshot in empty catalog")
	}
	if _, ok := empty.LatestSnapshotFilename(changelog.RoleSnapshotSchema); ok {
		t.Fatal("expected no latest snapshot file in empty catalog")
	}
}

func TestFlatLayoutCombinations(t *testing.T) {
	fsys := fstest.MapFS{
		flatBase + "/snapshots/schema-only/liquibase-schema-only-2.1.x.xml": {},
		flatCore2: {},
		flatUp21:  {},
		flatUp22:  {},
	}
	c, err := catalog.New(catalog.LayoutFlat, fsys, catalog.Options{BaseDir: flatBase})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	got, err := New(c).ChangeLogCombinations()
	if err != nil {
		t.Fatalf("combinations: %v", err)
	}
	want := map[string][]string{
		"2.1.x": {flatBase + "/snapshots/schema-only/liquibase-schema-only-2.1.x.xml", flatCore2, flatUp22},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
