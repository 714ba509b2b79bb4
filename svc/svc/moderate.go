package svc

import (
	"context"
	"strconv"

	"pasteward/metrics"
	"pasteward/pkg/domain"
	"pasteward/pkg/kms"
	"pasteward/svc/render"

	"github.com/pkg/errors"
)

const (
	RemovedTitle = "REMOVED SPAM POST"
	RemovedBody  = "Spam post removed from view."
)

func redactionContext(id int64) kms.EncryptionContext {
	return kms.EncryptionContext{
		"paste_id": strconv.FormatInt(id, 10),
		"purpose":  "redaction",
	}
}

func (p *Paste) authorize(ctx context.Context, token string) (string, error) {
	staffID, ok := p.staff.IsPrivileged(ctx, token)
	if !ok {
		return "", domain.ErrForbidden
	}
	return staffID, nil
}

// Redact replaces a spam paste with a placeholder and keeps the original sealed for
// moderators. A redacted paste cannot be redacted or re-rendered again.
func (p *Paste) Redact(ctx context.Context, id int64, token string) error {
	if p.shutdown.Load() {
		return domain.ErrOverloaded
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	staffID, err := p.authorize(ctx, token)
	if err != nil {
		return err
	}
	log := p.logger(ctx)

	p.modMu.Lock()
	defer p.modMu.Unlock()
	paste, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if paste.IsRedacted() {
		return domain.ErrAlreadyRedacted
	}
	if p.sealer == nil {
		return errors.Wrap(domain.ErrDependencyFailure, "no sealer configured")
	}
	formatted, ok := p.highlight(ctx, render.TypeText, RemovedBody)
	if !ok {
		return errors.Wrap(domain.ErrDependencyFailure, "render placeholder")
	}
	ec := redactionContext(id)
	sealed, wrapped, err := p.sealer.Seal(ctx, []byte(paste.Title+"\n\n"+paste.Raw), ec)
	if err != nil {
		return errors.Wrap(domain.ErrDependencyFailure, err.Error())
	}

	paste.Type = render.TypeText
	paste.Title = RemovedTitle
	paste.Raw = RemovedBody
	paste.Formatted = formatted
	paste.RedactedSealed = sealed
	paste.RedactedDEK = wrapped
	commitCtx := context.WithoutCancel(ctx)
	if err := p.store.Upsert(commitCtx, paste); err != nil {
		return errors.Wrap(err, "commit redaction")
	}
	p.remember(commitCtx, paste)
	metrics.Redactions.Inc()
	log.Info().Int64("id", id).Str("staff", staffID).Msg("paste removed by staff")
	return nil
}

// Rerender re-highlights the stored raw body and commits only when the output
// changed, ignoring trailing whitespace.
func (p *Paste) Rerender(ctx context.Context, id int64, token string) (bool, error) {
	if p.shutdown.Load() {
		return false, domain.ErrOverloaded
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	staffID, err := p.authorize(ctx, token)
	if err != nil {
		return false, err
	}
	log := p.logger(ctx)

	p.modMu.Lock()
	defer p.modMu.Unlock()
	paste, err := p.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if paste.IsRedacted() {
		return false, domain.ErrAlreadyRedacted
	}
	log.Info().Int64("id", id).Str("staff", staffID).Msg("rerender paste")
	formatted, ok := p.highlight(ctx, paste.Type, paste.Raw)
	if !ok {
		return false, errors.Wrapf(domain.ErrDependencyFailure, "rerender %d", id)
	}
	if domain.TrimmedEqual(paste.Formatted, formatted) {
		metrics.Rerenders.WithLabelValues("false").Inc()
		return false, nil
	}
	was := len(paste.Formatted)
	paste.Formatted = formatted
	commitCtx := context.WithoutCancel(ctx)
	if err := p.store.Upsert(commitCtx, paste); err != nil {
		return false, errors.Wrap(err, "commit rerender")
	}
	p.remember(commitCtx, paste)
	metrics.Rerenders.WithLabelValues("true").Inc()
	log.Info().Int64("id", id).Int("was", was).Int("now", len(formatted)).Msg("updated paste rendering")
	return true, nil
}

// Original returns the sealed pre-redaction title and body of a redacted paste.
func (p *Paste) Original(ctx context.Context, id int64, token string) (string, error) {
	staffID, err := p.authorize(ctx, token)
	if err != nil {
		return "", err
	}
	paste, err := p.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !paste.IsRedacted() {
		return "", domain.ErrPasteNotFound
	}
	if p.sealer == nil {
		return "", errors.Wrap(domain.ErrDependencyFailure, "no sealer configured")
	}
	plain, err := p.sealer.Open(ctx, paste.RedactedSealed, paste.RedactedDEK, redactionContext(id))
	if err != nil {
		return "", errors.Wrap(domain.ErrDependencyFailure, err.Error())
	}
	log := p.logger(ctx)
	log.Info().Int64("id", id).Str("staff", staffID).Msg("original of removed paste read")
	return string(plain), nil
}
