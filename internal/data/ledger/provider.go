package ledger

import (
	"context"
	"io/fs"
	"log/slog"
	"sync"

	"provenance/internal/core/errors"
	"provenance/internal/core/ports"
	"provenance/internal/engine/changelog"
)

// History is the read side of the ledger used by migration sessions.
type History interface {
	RanChangeSets(ctx context.Context) ([]RanChangeSet, error)
	Locked(ctx context.Context) (bool, error)
}

type ProviderOptions struct {
	// DBMS is the short name of the live database, matched against
	// changeset dbms attributes. Empty matches every changeset.
	DBMS   string
	Logger *slog.Logger
}

// Provider opens sessions that compare a changelog on fsys with the
// changesets recorded in the ledger.
type Provider struct {
	fsys    fs.FS
	history History
	dbms    string
	logger  *slog.Logger
}

var (
	_ ports.MigrationProvider = (*Provider)(nil)
	_ ports.LedgerStatus      = (*Provider)(nil)
)

func NewProvider(fsys fs.FS, history History, opts ProviderOptions) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{fsys: fsys, history: history, dbms: opts.DBMS, logger: logger}
}

// Open parses file and takes a fresh snapshot of the ledger.
func (p *Provider) Open(ctx context.Context, file string) (ports.Session, error) {
	if p.fsys == nil || p.history == nil {
		return nil, errors.New(errors.CodeValidationError, "provider requires a changelog file system and a ledger")
	}
	doc, err := changelog.Parse(p.fsys, file)
	if err != nil {
		return nil, err
	}
	ran, err := p.history.RanChangeSets(ctx)
	if err != nil {
		return nil, err
	}

	keys := make(map[changelog.Key]bool, len(ran))
	for _, r := range ran {
		keys[r.Key()] = true
	}
	p.logger.Debug("opened migration session",
		"file", file,
		"declared_changesets", len(doc.ChangeSets),
		"ran_changesets", len(ran))

	return &session{doc: doc, ran: keys, dbms: p.dbms}, nil
}

func (p *Provider) Locked(ctx context.Context) (bool, error) {
	if p.history == nil {
		return false, nil
	}
	return p.history.Locked(ctx)
}

type session struct {
	mu     sync.Mutex
	doc    *changelog.Document
	ran    map[changelog.Key]bool
	dbms   string
	closed bool
}

// UnrunChangeSets filters by context and dbms, then keeps changesets that
// are runAlways or absent from the ledger.
func (s *session) UnrunChangeSets(ctx context.Context, scope string) ([]changelog.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.CodeInternal, "migration session is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unrun := make([]changelog.ChangeSet, 0)
	for _, cs := range s.doc.ChangeSets {
		match, err := changelog.MatchContext(cs.Context, scope)
		if err != nil {
			return nil, errors.AddContext(
				errors.Wrap(err, errors.CodeValidationError, "evaluate changeset context"),
				errors.CtxPath, cs.String())
		}
		if !match || !changelog.MatchDBMS(cs.DBMS, s.dbms) {
			continue
		}
		if cs.RunAlways || !s.ran[cs.Key()] {
			unrun = append(unrun, cs)
		}
	}
	return unrun, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.CodeInternal, "migration session already closed")
	}
	s.closed = true
	s.doc = nil
	s.ran = nil
	return nil
}
