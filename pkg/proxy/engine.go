package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"personaproxy/pkg/logger"
	"personaproxy/pkg/match"
	"personaproxy/pkg/models"
	"personaproxy/pkg/sink"
	"personaproxy/pkg/store"
	"personaproxy/pkg/telemetry"
)

// Options tunes the engine. Zero values fall back to sane defaults.
type Options struct {
	// QueueCapacity bounds each venue's pending-message queue.
	QueueCapacity int
	// PostTimeout caps a single pipeline run end to end.
	PostTimeout time.Duration
	// MaxMessageBytes rejects oversized inbound text before it is
	// queued. Zero means no limit.
	MaxMessageBytes int64
	// SinkRPS and SinkBurst feed the per-channel platform limiter.
	SinkRPS   float64
	SinkBurst int
}

// Engine runs the substitution pipeline. All dependencies are injected;
// there is no package-level state.
type Engine struct {
	store   *store.Store
	client  sink.Client
	cache   *sink.Cache
	disp    *dispatcher
	timeout time.Duration
}

func New(st *store.Store, client sink.Client, opts Options) *Engine {
	if opts.PostTimeout <= 0 {
		opts.PostTimeout = 30 * time.Second
	}
	e := &Engine{
		store:   st,
		client:  client,
		cache:   sink.NewCache(client, opts.SinkRPS, opts.SinkBurst),
		timeout: opts.PostTimeout,
	}
	e.disp = newDispatcher(opts.QueueCapacity, opts.MaxMessageBytes, e.process)
	return e
}

// Close drains the per-venue workers. In-flight messages finish.
func (e *Engine) Close() { e.disp.close() }

// ResolveAndSubstitute feeds one inbound message through the pipeline.
// Messages in the same venue are processed strictly in arrival order.
func (e *Engine) ResolveAndSubstitute(ctx context.Context, in Inbound) Outcome {
	return e.disp.submit(ctx, in)
}

// process is the pipeline body, run on a venue worker.
func (e *Engine) process(parent context.Context, in Inbound) Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	out := e.run(ctx, in)
	telemetry.ObservePipeline(string(out.Kind), start)
	if out.Kind == OutcomeFailed {
		telemetry.StepFailures.WithLabelValues(out.Step).Inc()
		logger.Warn("substitution_failed",
			zap.String("owner", in.Owner),
			zap.String("venue", in.Venue),
			zap.String("step", out.Step),
			zap.Error(out.Err))
	}
	return out
}

func (e *Engine) run(ctx context.Context, in Inbound) Outcome {
	owner, err := e.store.GetOwner(in.Owner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failed("resolve", fmt.Errorf("%w: unknown owner %q", ErrValidation, in.Owner))
		}
		return failed("resolve", err)
	}

	// An escaped message never proxies and drops any latch, so the
	// next untagged message does not resurrect the previous speaker.
	if match.Escaped(in.Text) {
		if err := e.store.ClearLatch(owner.ID, in.Venue); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("latch_clear_failed", zap.String("owner", owner.ID), zap.String("venue", in.Venue), zap.Error(err))
		}
		return noAction()
	}

	mode, disabled, err := e.effectiveMode(owner, in.Venue)
	if err != nil {
		return failed("resolve", err)
	}
	if disabled {
		return noAction()
	}

	personas, err := e.store.ListPersonas(owner.ID)
	if err != nil {
		return failed("resolve", err)
	}
	if len(personas) == 0 {
		return noAction()
	}

	var persona *models.Persona
	content := in.Text
	keepTag := false
	if m := match.Find(in.Text, personas); m != nil {
		persona = m.Persona
		content = m.Content
		keepTag = persona.KeepTag
	} else {
		persona, err = e.resolveAuto(owner, in.Venue, mode, personas)
		if err != nil {
			return failed("resolve", err)
		}
	}
	if persona == nil {
		return noAction()
	}
	if keepTag {
		content = in.Text
	}
	if content == "" && len(in.Attachments) == 0 {
		return noAction()
	}

	post, display, err := e.compose(ctx, in, owner, persona, content)
	if err != nil {
		return failed("resolve", err)
	}

	msg, err := e.post(ctx, in.Venue, post)
	if err != nil {
		return failed("post", err)
	}

	pm := &models.ProxiedMessage{
		OriginalID:  in.MessageID,
		MessageID:   msg.ID,
		Venue:       in.Venue,
		Thread:      in.Thread,
		Owner:       owner.ID,
		Persona:     persona.ID,
		DisplayName: display,
		TS:          time.Now().UnixMilli(),
		Seq:         e.store.NextSeq(),
	}
	persona.MessageCount++
	if err := e.store.ApplySubstitution(pm, persona); err != nil {
		// The replacement is already visible; surface loudly so the
		// orphaned post can be reconciled.
		return failed("record", err)
	}

	// Removing the original is best effort: the substitution already
	// happened and is recorded, a leftover original is cosmetic.
	if err := e.deleteOriginal(ctx, in.Venue, in.MessageID); err != nil {
		telemetry.StepFailures.WithLabelValues("delete").Inc()
		logger.Warn("original_delete_failed",
			zap.String("venue", in.Venue),
			zap.String("original", in.MessageID),
			zap.Error(err))
	}

	logger.Info("substituted",
		zap.String("owner", owner.ID),
		zap.String("persona", persona.ID),
		zap.String("venue", in.Venue),
		zap.String("message", msg.ID))
	return Outcome{Kind: OutcomeSubstituted, MessageID: msg.ID}
}

// compose builds the outgoing post: venue overrides beat persona
// fields, the owner tag is appended to the display name, and a reply
// quote is prepended when the inbound message was a reply.
func (e *Engine) compose(ctx context.Context, in Inbound, owner *models.Owner, persona *models.Persona, content string) (sink.Post, string, error) {
	name := persona.DisplayName()
	avatar := persona.AvatarURL
	if ov, err := e.store.GetOverride(owner.ID, in.Venue, persona.ID); err == nil {
		if ov.ProxyDisabled {
			return sink.Post{}, "", fmt.Errorf("%w: persona %q disabled in venue %q", ErrValidation, persona.ID, in.Venue)
		}
		if ov.Name != "" {
			name = ov.Name
		}
		if ov.AvatarURL != "" {
			avatar = ov.AvatarURL
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return sink.Post{}, "", err
	}
	if owner.Tag != "" {
		name = name + " " + owner.Tag
	}

	if in.ReplyTo != "" {
		if quote := e.replyPreview(ctx, in.Venue, in.ReplyTo); quote != "" {
			content = quote + "\n" + content
		}
	}

	return sink.Post{
		Content:     content,
		Name:        name,
		AvatarURL:   avatar,
		Attachments: in.Attachments,
		Thread:      in.Thread,
	}, name, nil
}

// replyPreview renders a short quote of the replied-to message. Lookup
// failures degrade to no preview.
func (e *Engine) replyPreview(ctx context.Context, venue, messageID string) string {
	orig, err := e.client.FetchMessage(ctx, venue, messageID)
	if err != nil {
		logger.Debug("reply_preview_skipped", zap.String("venue", venue), zap.String("message", messageID), zap.Error(err))
		return ""
	}
	text := orig.Content
	if runes := []rune(text); len(runes) > 100 {
		text = string(runes[:100]) + "…"
	}
	return "> **" + orig.Author + "** " + text
}

// post sends through the identity sink with a single retry when the
// cached handle turns out stale.
func (e *Engine) post(ctx context.Context, venue string, p sink.Post) (*sink.Message, error) {
	h, err := e.cache.Acquire(ctx, venue)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Wait(ctx, venue); err != nil {
		return nil, err
	}
	msg, err := e.client.PostAs(ctx, h, p)
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, sink.ErrIdentityNotFound) {
		return nil, err
	}
	e.cache.Invalidate(venue)
	h, err = e.cache.Acquire(ctx, venue)
	if err != nil {
		return nil, err
	}
	return e.client.PostAs(ctx, h, p)
}

func (e *Engine) deleteOriginal(ctx context.Context, venue, messageID string) error {
	if err := e.cache.Wait(ctx, venue); err != nil {
		return err
	}
	err := e.client.DeleteMessage(ctx, venue, messageID)
	if errors.Is(err, sink.ErrMessageNotFound) {
		return nil
	}
	return err
}

// lookupOwned fetches a substituted message by either of its ids and
// checks ownership. Foreign and tombstoned rows read as absent.
func (e *Engine) lookupOwned(ownerID, id string) (*models.ProxiedMessage, error) {
	pm, err := e.store.GetProxiedEither(id)
	if err != nil {
		return nil, classify(err)
	}
	if pm.Owner != ownerID || pm.Deleted {
		return nil, fmt.Errorf("%w: message %q", ErrNotFound, id)
	}
	return pm, nil
}

// EditSubstituted rewrites the content of an earlier substitution in
// place. The id may be the original or the substituted message id.
func (e *Engine) EditSubstituted(ctx context.Context, ownerID, id, content string) error {
	pm, err := e.lookupOwned(ownerID, id)
	if err != nil {
		return err
	}
	h, err := e.cache.Acquire(ctx, pm.Venue)
	if err != nil {
		return classify(err)
	}
	if err := e.cache.Wait(ctx, pm.Venue); err != nil {
		return classify(err)
	}
	err = e.client.EditAs(ctx, h, pm.MessageID, content, pm.Thread)
	if errors.Is(err, sink.ErrIdentityNotFound) {
		e.cache.Invalidate(pm.Venue)
		if h, err = e.cache.Acquire(ctx, pm.Venue); err == nil {
			err = e.client.EditAs(ctx, h, pm.MessageID, content, pm.Thread)
		}
	}
	if err != nil {
		return classify(err)
	}
	logger.Info("substitution_edited", zap.String("owner", ownerID), zap.String("message", pm.MessageID))
	return nil
}

// ReproxySubstituted re-attributes an earlier substitution to another
// persona. The platform offers no authorship transfer, so the message
// is reposted under the new persona and the old post removed.
func (e *Engine) ReproxySubstituted(ctx context.Context, ownerID, id, personaID string) (string, error) {
	pm, err := e.lookupOwned(ownerID, id)
	if err != nil {
		return "", err
	}
	owner, err := e.store.GetOwner(ownerID)
	if err != nil {
		return "", classify(err)
	}
	persona, err := e.store.GetPersona(ownerID, personaID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown persona %q", ErrValidation, personaID)
		}
		return "", classify(err)
	}

	orig, err := e.client.FetchMessage(ctx, pm.Venue, pm.MessageID)
	if err != nil {
		return "", classify(err)
	}
	in := Inbound{Owner: ownerID, Venue: pm.Venue, Thread: pm.Thread}
	post, display, err := e.compose(ctx, in, owner, persona, orig.Content)
	if err != nil {
		return "", classify(err)
	}
	msg, err := e.post(ctx, pm.Venue, post)
	if err != nil {
		return "", classify(err)
	}

	oldID := pm.MessageID
	pm.MessageID = msg.ID
	pm.Persona = persona.ID
	pm.DisplayName = display
	if err := e.store.RemapProxied(pm, oldID); err != nil {
		return "", classify(err)
	}
	if err := e.deleteOriginal(ctx, pm.Venue, oldID); err != nil {
		logger.Warn("reproxy_cleanup_failed", zap.String("venue", pm.Venue), zap.String("message", oldID), zap.Error(err))
	}
	logger.Info("substitution_reproxied",
		zap.String("owner", ownerID),
		zap.String("persona", persona.ID),
		zap.String("message", msg.ID))
	return msg.ID, nil
}

// DeleteSubstituted removes a substituted message from the platform and
// tombstones its record. Retention hard-deletes tombstones later.
func (e *Engine) DeleteSubstituted(ctx context.Context, ownerID, id string) error {
	pm, err := e.lookupOwned(ownerID, id)
	if err != nil {
		return err
	}
	if err := e.deleteOriginal(ctx, pm.Venue, pm.MessageID); err != nil {
		return classify(err)
	}
	pm.Deleted = true
	pm.DeletedTS = time.Now().UnixMilli()
	if err := e.store.UpdateProxied(pm); err != nil {
		return classify(err)
	}
	logger.Info("substitution_deleted", zap.String("owner", ownerID), zap.String("message", pm.MessageID))
	return nil
}
