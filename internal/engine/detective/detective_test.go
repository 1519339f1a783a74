package detective

import (
	"context"
	stderrors "errors"
	"reflect"
	"testing"
	"testing/fstest"

	"provenance/internal/core/errors"
	"provenance/internal/core/ports"
	"provenance/internal/engine/catalog"
	"provenance/internal/engine/changelog"
	"provenance/internal/engine/finder"
)

const (
	schema19 = "liquibase-snapshots/1.9.x/liquibase-schema-only.xml"
	core19   = "liquibase-snapshots/1.9.x/liquibase-core-data.xml"
	schema21 = "liquibase-snapshots/2.1.x/liquibase-schema-only.xml"
	core21   = "liquibase-snapshots/2.1.x/liquibase-core-data.xml"
	update20 = "liquibase-updates/2.0.x/liquibase-update-to-latest.xml"
	update21 = "liquibase-updates/2.1.x/liquibase-update-to-latest.xml"
	update22 = "liquibase-updates/2.2.x/liquibase-update-to-latest.xml"
)

// fakeProvider answers UnrunChangeSets from a fixed per-file table.
type fakeProvider struct {
	unrun     map[string][]changelog.ChangeSet
	openErr   map[string]error
	queryErr  map[string]error
	closeErr  error
	opened    []string
	open      int
	maxOpen   int
	scopeSeen []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		unrun:    make(map[string][]changelog.ChangeSet),
		openErr:  make(map[string]error),
		queryErr: make(map[string]error),
	}
}

func (p *fakeProvider) Open(_ context.Context, file string) (ports.Session, error) {
	if err := p.openErr[file]; err != nil {
		return nil, err
	}
	p.opened = append(p.opened, file)
	p.open++
	if p.open > p.maxOpen {
		p.maxOpen = p.open
	}
	return &fakeSession{provider: p, file: file}, nil
}

type fakeSession struct {
	provider *fakeProvider
	file     string
}

func (s *fakeSession) UnrunChangeSets(_ context.Context, scope string) ([]changelog.ChangeSet, error) {
	s.provider.scopeSeen = append(s.provider.scopeSeen, scope)
	if err := s.provider.queryErr[s.file]; err != nil {
		return nil, err
	}
	return s.provider.unrun[s.file], nil
}

func (s *fakeSession) Close() error {
	s.provider.open--
	return s.provider.closeErr
}

func changeSets(file string, ids ...string) []changelog.ChangeSet {
	out := make([]changelog.ChangeSet, 0, len(ids))
	for _, id := range ids {
		out = append(out, changelog.ChangeSet{ID: id, Author: "dev", FilePath: file})
	}
	return out
}

func newDetective(t *testing.T, files ...string) *Detective {
	t.Helper()
	fsys := fstest.MapFS{}
	for _, f := range files {
		fsys[f] = &fstest.MapFile{}
	}
	c, err := catalog.New(catalog.LayoutSubfolder, fsys, catalog.Options{})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return New(finder.New(c), nil)
}

func scenarioDetective(t *testing.T) *Detective {
	return newDetective(t, schema19, core19, update20, update21, update22)
}

func TestResolveScenarioFreshSnapshot(t *testing.T) {
	d := scenarioDetective(t)
	p := newFakeProvider()
	p.unrun[update20] = changeSets(update20, "u20-1")
	p.unrun[update21] = changeSets(update21, "u21-1", "u21-2")
	p.unrun[update22] = changeSets(update22, "u22-1")

	baseline, err := d.ResolveBaseline(context.Background(), "", p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if baseline != "1.9.x" {
		t.Fatalf("baseline = %q", baseline)
	}

	pending, err := d.PendingUpdateFiles(context.Background(), baseline, "", p)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if want := []string{update20, update21, update22}; !reflect.DeepEqual(pending, want) {
		t.Fatalf("pending = %v, want %v", pending, want)
	}
}

func TestResolveScenarioPartiallyUpdated(t *testing.T) {
	d := scenarioDetective(t)
	p := newFakeProvider()
	p.unrun[update21] = changeSets(update21, "u21-1")
	p.unrun[update22] = changeSets(update22, "u22-1")

	baseline, err := d.ResolveBaseline(context.Background(), "", p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if baseline != "1.9.x" {
		t.Fatalf("baseline must only consider snapshot files, got %q", baseline)
	}
	for _, f := range p.opened {
		if f == update20 {
			t.Fatal("baseline resolution must not open update changelogs")
		}
	}

	pending, err := d.PendingUpdates(context.Background(), baseline, "", p)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	want := []PendingFile{
		{Path: update21, Version: "2.1.x", Unrun: 1},
		{Path: update22, Version: "2.2.x", Unrun: 1},
	}
	if !reflect.DeepEqual(pending, want) {
		t.Fatalf("pending = %+v, want %+v", pending, want)
	}
}

func TestResolveScenarioUnknownState(t *testing.T) {
	d := newDetective(t, schema19, core19, schema21, core21, update20, update21, update22)
	p := newFakeProvider()
	p.unrun[schema19] = changeSets(schema19, "s19-1")
	p.unrun[core21] = changeSets(core21, "c21-1")

	_, err := d.ResolveBaseline(context.Background(), "", p)
	if !errors.IsCode(err, errors.CodeUnidentifiable) {
		t.Fatalf("expected UNIDENTIFIABLE, got %v", err)
	}
	if p.open != 0 {
		t.Fatalf("expected every session closed, %d open", p.open)
	}
}

func TestResolvePrefersNewestSnapshot(t *testing.T) {
	d := newDetective(t, schema19, core19, schema21, core21, update22)
	p := newFakeProvider()

	baseline, err := d.ResolveBaseline(context.Background(), "", p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if baseline != "2.1.x" {
		t.Fatalf("baseline = %q", baseline)
	}
	if want := []string{schema21, core21}; !reflect.DeepEqual(p.opened, want) {
		t.Fatalf("opened %v, want early termination after %v", p.opened, want)
	}
}

func TestResolveFallsBackToOlderSnapshot(t *testing.T) {
	d := newDetective(t, schema19, core19, schema21, core21)
	p := newFakeProvider()
	p.unrun[schema21] = changeSets(schema21, "s21-1")

	baseline, err := d.ResolveBaseline(context.Background(), "prod", p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if baseline != "1.9.x" {
		t.Fatalf("baseline = %q", baseline)
	}
	if want := []string{schema21, core21, schema19, core19}; !reflect.DeepEqual(p.opened, want) {
		t.Fatalf("opened %v, want %v", p.opened, want)
	}
	if p.maxOpen != 1 {
		t.Fatalf("expected sequential sessions, saw %d open at once", p.maxOpen)
	}
	for _, s := range p.scopeSeen {
		if s != "prod" {
			t.Fatalf("scope not forwarded, saw %q", s)
		}
	}
}

func TestResolveIgnoresVintageChangeSets(t *testing.T) {
	d := newDetective(t, schema19, core19)
	p := newFakeProvider()
	p.unrun[schema19] = []changelog.ChangeSet{
		{ID: "disable-foreign-key-checks", Author: VintageAuthor, FilePath: schema19},
	}
	p.unrun[core19] = []changelog.ChangeSet{
		{ID: "enable-foreign-key-checks", Author: VintageAuthor, FilePath: core19},
	}

	baseline, err := d.ResolveBaseline(context.Background(), "", p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if baseline != "1.9.x" {
		t.Fatalf("baseline = %q", baseline)
	}
}

func TestPendingCountsVintageChangeSets(t *testing.T) {
	d := newDetective(t, schema19, core19, update20)
	p := newFakeProvider()
	p.unrun[update20] = []changelog.ChangeSet{
		{ID: "disable-foreign-key-checks", Author: VintageAuthor, FilePath: update20},
	}

	pending, err := d.PendingUpdateFiles(context.Background(), "1.9.x", "", p)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !reflect.DeepEqual(pending, []string{update20}) {
		t.Fatalf("pending = %v", pending)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	d := scenarioDetective(t)
	p := newFakeProvider()
	p.unrun[update22] = changeSets(update22, "u22-1")

	var firstBaseline string
	var firstPending []string
	for i := 0; i < 3; i++ {
		baseline, err := d.ResolveBaseline(context.Background(), "", p)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		pending, err := d.PendingUpdateFiles(context.Background(), baseline, "", p)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if i == 0 {
			firstBaseline, firstPending = baseline, pending
			continue
		}
		if baseline != firstBaseline || !reflect.DeepEqual(pending, firstPending) {
			t.Fatalf("run %d: got %q %v, want %q %v", i, baseline, pending, firstBaseline, firstPending)
		}
	}
}

func TestResolveWithoutSnapshots(t *testing.T) {
	d := newDetective(t, update20)
	_, err := d.ResolveBaseline(context.Background(), "", newFakeProvider())
	if !errors.IsCode(err, errors.CodeNoCandidates) {
		t.Fatalf("expected NO_CANDIDATES, got %v", err)
	}
}

func TestResolveRequiresProvider(t *testing.T) {
	d := scenarioDetective(t)
	if _, err := d.ResolveBaseline(context.Background(), "", nil); !errors.IsCode(err, errors.CodeValidationError) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if _, err := d.PendingUpdateFiles(context.Background(), "1.9.x", "", nil); !errors.IsCode(err, errors.CodeValidationError) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestProviderErrorsAreTerminal(t *testing.T) {
	boom := stderrors.New("ledger unavailable")

	t.Run("open", func(t *testing.T) {
		d := newDetective(t, schema19, core19, schema21, core21)
		p := newFakeProvider()
		p.unrun[schema21] = changeSets(schema21, "s21-1")
		p.openErr[core19] = boom

		baseline, err := d.ResolveBaseline(context.Background(), "", p)
		if !errors.IsCode(err, errors.CodeProvider) || !stderrors.Is(err, boom) {
			t.Fatalf("expected PROVIDER_ERROR wrapping cause, got %v", err)
		}
		if baseline != "" {
			t.Fatalf("expected no partial baseline, got %q", baseline)
		}
		if p.open != 0 {
			t.Fatalf("expected every session closed, %d open", p.open)
		}
	})

	t.Run("query", func(t *testing.T) {
		d := newDetective(t, schema19, core19)
		p := newFakeProvider()
		p.queryErr[schema19] = boom

		_, err := d.ResolveBaseline(context.Background(), "", p)
		if !errors.IsCode(err, errors.CodeProvider) {
			t.Fatalf("expected PROVIDER_ERROR, got %v", err)
		}
		if p.open != 0 {
			t.Fatalf("session left open after query failure")
		}
	})

	t.Run("close", func(t *testing.T) {
		d := newDetective(t, schema19, core19)
		p := newFakeProvider()
		p.closeErr = boom

		if _, err := d.ResolveBaseline(context.Background(), "", p); !errors.IsCode(err, errors.CodeProvider) {
			t.Fatalf("expected PROVIDER_ERROR, got %v", err)
		}
	})

	t.Run("pending", func(t *testing.T) {
		d := scenarioDetective(t)
		p := newFakeProvider()
		p.unrun[update20] = changeSets(update20, "u20-1")
		p.queryErr[update21] = boom

		pending, err := d.PendingUpdateFiles(context.Background(), "1.9.x", "", p)
		if !errors.IsCode(err, errors.CodeProvider) {
			t.Fatalf("expected PROVIDER_ERROR, got %v", err)
		}
		if pending != nil {
			t.Fatalf("expected no partial result, got %v", pending)
		}
	})
}

func TestPendingRejectsBadBaseline(t *testing.T) {
	d := scenarioDetective(t)
	for _, in := range []string{"", "unknown"} {
		if _, err := d.PendingUpdateFiles(context.Background(), in, "", newFakeProvider()); !errors.IsCode(err, errors.CodeValidationError) {
			t.Errorf("%q: expected VALIDATION_ERROR, got %v", in, err)
		}
	}
}

func TestResolveHonoursCancellation(t *testing.T) {
	d := scenarioDetective(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.ResolveBaseline(ctx, "", newFakeProvider()); !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSnapshotVersionsDescending(t *testing.T) {
	combinations := map[string][]string{
		"2.2.x": nil, "1.9.x": nil, "2.4.x": nil, "2.1.x": nil, "2.3.x": nil,
	}
	got, err := SnapshotVersionsDescending(combinations)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if want := []string{"2.4.x", "2.3.x", "2.2.x", "2.1.x", "1.9.x"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestVintageFiltering(t *testing.T) {
	tests := []struct {
		name string
		cs   changelog.ChangeSet
		want bool
	}{
		{"disable", changelog.ChangeSet{ID: "disable-foreign-key-checks", Author: VintageAuthor}, true},
		{"enable", changelog.ChangeSet{ID: "enable-foreign-key-checks", Author: VintageAuthor}, true},
		{"same author other id", changelog.ChangeSet{ID: "add-index", Author: VintageAuthor}, false},
		{"same id other author", changelog.ChangeSet{ID: "disable-foreign-key-checks", Author: "alice"}, false},
		{"prefix only", changelog.ChangeSet{ID: "disable-foreign-key-checks-2", Author: VintageAuthor}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVintage(tt.cs); got != tt.want {
				t.Fatalf("IsVintage = %v, want %v", got, tt.want)
			}
		})
	}

	in := []changelog.ChangeSet{
		{ID: "a", Author: VintageAuthor},
		{ID: "disable-foreign-key-checks", Author: VintageAuthor},
		{ID: "b", Author: "dev"},
	}
	got := ExcludeVintage(in)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("ExcludeVintage = %+v", got)
	}
}
