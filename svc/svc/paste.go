package svc

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"pasteward/cfg"
	"pasteward/metrics"
	"pasteward/pkg/domain"
	"pasteward/pkg/kms"
	"pasteward/svc/auth"
	"pasteward/svc/cache"
	"pasteward/svc/clean"
	"pasteward/svc/db"
	"pasteward/svc/diff"
	"pasteward/svc/ident"
	"pasteward/svc/lim"
	"pasteward/svc/notify"
	"pasteward/svc/render"
	"pasteward/svc/spam"
	"pasteward/svc/util"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Store is the persistence gateway. Upsert replaces a paste as a whole.
type Store interface {
	Upsert(ctx context.Context, p *domain.Paste) error
	Get(ctx context.Context, id int64) (*domain.Paste, error)
}

// Classifier decides whether a normalized submission looks like spam.
type Classifier interface {
	Classify(title, body string) spam.Verdict
}

// Deps are the collaborators of the coordinator. Cache, Redis, Sealer and Notifier
// are optional.
type Deps struct {
	Store       Store
	IDs         *ident.Allocator
	Cache       *cache.LRU
	Redis       *db.Redis
	Classifier  Classifier
	Registry    *render.Registry
	Highlighter render.Highlighter
	Admitter    lim.Admitter
	Staff       auth.Privileged
	Sealer      *kms.Sealer
	Notifier    notify.Notifier
}

type Paste struct {
	store           Store
	ids             *ident.Allocator
	lru             *cache.LRU
	rdb             *db.Redis
	classifier      Classifier
	registry        *render.Registry
	hl              render.Highlighter
	admit           lim.Admitter
	staff           auth.Privileged
	sealer          *kms.Sealer
	notifier        notify.Notifier
	cfg             *cfg.Cfg
	reads           singleflight.Group
	modMu           sync.Mutex
	activeCreateOps int32
	shutdown        atomic.Bool
	opWg            sync.WaitGroup
}

func NewPaste(d Deps, c *cfg.Cfg) *Paste {
	if d.Store == nil || d.IDs == nil || d.Classifier == nil || d.Registry == nil || d.Highlighter == nil || d.Admitter == nil || c == nil {
		panic("paste service: nil dependency (store, ids, classifier, registry, highlighter, admitter, or cfg)")
	}
	if d.Staff == nil {
		d.Staff = auth.Nobody{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	return &Paste{
		store:      d.Store,
		ids:        d.IDs,
		lru:        d.Cache,
		rdb:        d.Redis,
		classifier: d.Classifier,
		registry:   d.Registry,
		hl:         d.Highlighter,
		admit:      d.Admitter,
		staff:      d.Staff,
		sealer:     d.Sealer,
		notifier:   d.Notifier,
		cfg:        c,
	}
}

// Shutdown refuses new work and waits for in-flight operations to finish.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}

// Submit runs one submission through the pipeline. Every rejection reason is logged
// and counted; the caller only learns whether the paste was accepted.
func (p *Paste) Submit(ctx context.Context, sub domain.Submission) domain.Outcome {
	if p.shutdown.Load() {
		metrics.PasteRejected.WithLabelValues("shutdown").Inc()
		return domain.Rejected()
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	currentLoad := atomic.AddInt32(&p.activeCreateOps, 1)
	defer atomic.AddInt32(&p.activeCreateOps, -1)

	origin, sender := Provenance(sub.Conn, p.cfg.TrustXForwardedFor)
	if sub.Compact {
		sender += ", response=micro"
		if sub.CompactV2 {
			sender += "v2"
		}
	}
	log := util.GetLogger().With().
		Str("request_id", util.RequestID(ctx)).
		Str("origin", util.RedactIP(origin)).
		Str("sender", util.RedactSender(sender)).
		Logger()
	reject := func(stage string, err error) domain.Outcome {
		metrics.PasteRejected.WithLabelValues(stage).Inc()
		log.Info().Err(err).Str("stage", stage).Msg("refused paste")
		return domain.Rejected()
	}
	malformed := func(format string, args ...interface{}) domain.Outcome {
		return reject("malformed", errors.Wrapf(domain.ErrMalformedInput, format, args...))
	}
	log.Debug().Str("type", sub.Type).Msg("attempted paste")

	if currentLoad > int32(p.cfg.MaxWorkerLoad) {
		return reject("overload", errors.Wrap(domain.ErrOverloaded, "too many submissions in flight"))
	}

	if len(sub.Title) != 1 || len(sub.Body) != 1 {
		return malformed("form needs exactly one title and one body")
	}
	edits := sub.EditOf
	if edits == nil && sub.Editing != "" {
		editID, err := strconv.ParseInt(sub.Editing, 10, 64)
		if err != nil || editID <= 0 {
			return malformed("editing key %q is not an id", sub.Editing)
		}
		edits, err = p.Get(ctx, editID)
		if err != nil {
			return malformed("edit target %d: %v", editID, err)
		}
	}
	typ, ok := p.registry.Lookup(sub.Type)
	if !ok {
		return malformed("unknown type %q", sub.Type)
	}

	title, body := clean.Normalize(sub.Title[0], sub.Body[0], typ.DisplayName, p.cfg.MaxPasteRawLength)

	if v := p.classifier.Classify(title, body); !v.Accept {
		metrics.SpamRuleHits.WithLabelValues(v.Rule).Inc()
		return reject("classify", errors.Wrapf(domain.ErrPolicyRejection, "%s: %s", v.Rule, v.Reason))
	}

	if !p.admit.Admit(ctx, origin) {
		return reject("rate_limit", domain.ErrRateLimitExceeded)
	}

	var report diff.Result
	if edits != nil {
		var err error
		report, err = diff.Generate(edits.Raw, body)
		if err != nil {
			return reject("diff", errors.Wrap(err, "generate diff"))
		}
		if !report.HasDifferences {
			return reject("diff", errors.Wrap(domain.ErrPolicyRejection, "edit changes nothing"))
		}
	}

	formatted, ok := p.highlight(ctx, typ.Name, body)
	if !ok {
		return reject("highlight", errors.Wrap(domain.ErrDependencyFailure, "highlighter failed or timed out"))
	}
	if n := utf8.RuneCountInString(formatted); n > p.cfg.MaxPasteRawLength*5 {
		return reject("highlight", errors.Wrapf(domain.ErrPolicyRejection, "formatted output too large (%d runes)", n))
	}
	var reportFormatted string
	if edits != nil {
		if reportFormatted, ok = p.highlight(ctx, render.TypeDiff, report.Text); !ok {
			return reject("highlight", errors.Wrap(domain.ErrDependencyFailure, "diff highlighting failed or timed out"))
		}
	}

	if err := ctx.Err(); err != nil {
		return reject("cancelled", err)
	}

	// From here on the caller's cancellation no longer applies.
	commitCtx := context.WithoutCancel(ctx)
	now := time.Now().UTC()
	paste := &domain.Paste{
		Title:     title,
		Type:      typ.Name,
		Sender:    sender,
		CreatedAt: now,
		Raw:       body,
		Formatted: formatted,
	}
	id, err := p.ids.Next(commitCtx)
	if err != nil {
		return reject("allocate", err)
	}
	paste.ID = id

	var reportPaste *domain.Paste
	if edits != nil {
		paste.Edits = edits.ID
		reportID, err := p.ids.Next(commitCtx)
		if err != nil {
			return reject("allocate", err)
		}
		reportPaste = &domain.Paste{
			ID:        reportID,
			Title:     fmt.Sprintf("Diff Report Between Paste #%d and #%d", id, edits.ID),
			Type:      render.TypeDiff,
			Sender:    "(GENERATED), " + sender,
			CreatedAt: now,
			Raw:       report.Text,
			Formatted: reportFormatted,
			Edits:     id,
		}
		paste.DiffReport = reportID
	}

	if reportPaste != nil {
		if err := p.store.Upsert(commitCtx, reportPaste); err != nil {
			return reject("persist", errors.Wrap(err, "diff report"))
		}
		p.remember(commitCtx, reportPaste)
		metrics.DiffReports.Inc()
		p.notifier.OnAccepted(reportPaste.Clone())
	}
	if err := p.store.Upsert(commitCtx, paste); err != nil {
		if reportPaste != nil {
			log.Error().Int64("diff_report", reportPaste.ID).Msg("diff report committed without its paste")
		}
		return reject("persist", err)
	}
	p.remember(commitCtx, paste)
	p.notifier.OnAccepted(paste.Clone())

	metrics.PasteAccepted.Inc()
	ev := log.Info().Int64("id", id).Str("type", typ.Name)
	if edits != nil {
		ev = ev.Int64("edits", edits.ID).Int64("diff_report", reportPaste.ID).
			Int("added", report.Added).Int("removed", report.Removed)
	}
	ev.Msg("accepted paste")
	return domain.Outcome{Accepted: true, ID: id, Location: p.location(id, sub)}
}

func (p *Paste) location(id int64, sub domain.Submission) string {
	switch {
	case sub.Compact && sub.CompactV2:
		return fmt.Sprintf("%s/View/%d\n", p.cfg.URLBase, id)
	case sub.Compact:
		return fmt.Sprintf("/paste/%d\n", id)
	default:
		return fmt.Sprintf("/View/%d", id)
	}
}

// highlight bounds the highlighter by HIGHLIGHT_TIMEOUT. A late result is dropped.
func (p *Paste) highlight(ctx context.Context, typeTag, raw string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.HighlightTimeout)
	defer cancel()
	type result struct {
		out string
		ok  bool
	}
	resultCh := make(chan result, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				util.Error().Interface("panic", r).Str("type", typeTag).Msg("highlighter panicked")
				resultCh <- result{}
			}
		}()
		out, ok := p.hl.Render(typeTag, raw)
		resultCh <- result{out, ok}
	}()
	select {
	case res := <-resultCh:
		metrics.HighlightDuration.Observe(time.Since(start).Seconds())
		return res.out, res.ok && res.out != ""
	case <-ctx.Done():
		util.Warn().Str("type", typeTag).Dur("timeout", p.cfg.HighlightTimeout).Msg("highlighter timed out")
		return "", false
	}
}

// remember pushes a freshly committed paste into both cache tiers. When Redis
// refuses the new copy, the old one is dropped.
func (p *Paste) remember(ctx context.Context, paste *domain.Paste) {
	if p.lru != nil {
		p.lru.Set(paste)
	}
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, paste, p.cfg.PasteCacheTTL); err != nil {
			util.Warn().Err(err).Int64("id", paste.ID).Msg("failed to cache in Redis")
			// a stale copy would outlive a redaction
			if err := p.rdb.Evict(ctx, paste.ID); err != nil {
				util.Error().Err(err).Int64("id", paste.ID).Msg("failed to evict stale Redis copy")
			}
		}
	}
}

// Get is the public read path: LRU, then Redis, then the store. Concurrent misses for
// one id share a single store read.
func (p *Paste) Get(ctx context.Context, id int64) (*domain.Paste, error) {
	if p.lru != nil {
		if paste := p.lru.Get(id); paste != nil {
			metrics.PasteRetrieved.Inc()
			return paste, nil
		}
	}
	v, err, _ := p.reads.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		if p.rdb != nil {
			paste, err := p.rdb.GetPaste(ctx, id)
			if err != nil {
				util.Warn().Err(err).Int64("id", id).Msg("redis read failed, falling back to store")
			} else if paste != nil {
				if p.lru != nil {
					p.lru.Set(paste)
				}
				return paste, nil
			}
		}
		paste, err := p.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrPasteNotFound) {
				return nil, domain.ErrPasteNotFound
			}
			return nil, errors.Wrap(err, "get paste")
		}
		p.remember(ctx, paste)
		return paste, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.PasteRetrieved.Inc()
	return v.(*domain.Paste).Clone(), nil
}

func (p *Paste) logger(ctx context.Context) zerolog.Logger {
	return util.GetLogger().With().Str("request_id", util.RequestID(ctx)).Logger()
}

type revisionLister interface {
	Revisions(ctx context.Context, id int64) ([]int64, error)
}

// Revisions lists the pastes submitted as edits of id. Stores that cannot answer
// report none.
func (p *Paste) Revisions(ctx context.Context, id int64) ([]int64, error) {
	rl, ok := p.store.(revisionLister)
	if !ok {
		return nil, nil
	}
	return rl.Revisions(ctx, id)
}
