package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-confirm/internal/entity"
	"github.com/ksred/klear-confirm/internal/extraction"
	"github.com/ksred/klear-confirm/internal/extractor"
	"github.com/ksred/klear-confirm/internal/mailbox"
	"github.com/ksred/klear-confirm/internal/reconcile"
	"github.com/ksred/klear-confirm/internal/types"
	"github.com/rs/zerolog"
)

// Refresher re-reads a file-backed source when it changed on disk
type Refresher interface {
	Refresh() error
}

// Resolver maps a sender address to its directory identity
type Resolver interface {
	Resolve(sender string) (entity.Identity, bool)
}

// Reconciler records the outcome of one validated extraction
type Reconciler interface {
	Reconcile(email types.EmailContext, ex *types.EmailExtraction) (*reconcile.Outcome, error)
}

// Registry remembers which messages were already processed
type Registry interface {
	GetProcessed(messageID string) (*ProcessedMessage, error)
	MarkProcessed(msg *ProcessedMessage) error
}

// Config holds the processor settings
type Config struct {
	MyEntity       string
	ExtractTimeout time.Duration
}

// Processor runs polling cycles over the confirmations mailbox
type Processor struct {
	mailbox     mailbox.Mailbox
	disposition *mailbox.Disposition
	extractor   extractor.Extractor
	resolver    Resolver
	reconciler  Reconciler
	registry    Registry
	refreshers  []Refresher
	config      Config

	mu  sync.Mutex // one cycle at a time
	log zerolog.Logger
}

func NewProcessor(
	mb mailbox.Mailbox,
	disposition *mailbox.Disposition,
	ex extractor.Extractor,
	resolver Resolver,
	reconciler Reconciler,
	registry Registry,
	config Config,
	log zerolog.Logger,
	refreshers ...Refresher,
) *Processor {
	if config.ExtractTimeout <= 0 {
		config.ExtractTimeout = 60 * time.Second
	}
	return &Processor{
		mailbox:     mb,
		disposition: disposition,
		extractor:   ex,
		resolver:    resolver,
		reconciler:  reconciler,
		registry:    registry,
		refreshers:  refreshers,
		config:      config,
		log:         log.With().Str("component", "poller").Logger(),
	}
}

// RunCycle processes every unread message once. Cycles never overlap. A
// cancelled ctx prevents a cycle from starting but does not interrupt one
// that is running. Per-message failures are counted, not returned.
func (p *Processor) RunCycle(ctx context.Context) (*CycleResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	result := &CycleResult{CycleID: uuid.New().String(), StartedAt: time.Now()}
	logger := p.log.With().Str("cycle_id", result.CycleID).Logger()

	for _, r := range p.refreshers {
		if err := r.Refresh(); err != nil {
			logger.Error().Err(err).Msg("failed to refresh reference data, keeping previous contents")
		}
	}

	messages, err := p.mailbox.FetchUnread(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch unread messages")
		return nil, fmt.Errorf("fetch unread messages: %w", err)
	}
	result.Fetched = len(messages)
	if len(messages) == 0 {
		logger.Debug().Msg("no new unread messages found")
		return result, nil
	}
	logger.Info().Int("count", len(messages)).Msg("found new unread messages")

	for _, msg := range messages {
		p.processMessage(ctx, msg, result, logger)
	}

	logger.Info().
		Int("reconciled", result.Reconciled).
		Int("not_confirmations", result.NotConfirmations).
		Int("already_processed", result.AlreadyProcessed).
		Int("failed", result.Failed).
		Dur("duration", time.Since(result.StartedAt)).
		Msg("polling cycle complete")
	return result, nil
}

func (p *Processor) processMessage(ctx context.Context, msg mailbox.Message, result *CycleResult, logger zerolog.Logger) {
	logger = logger.With().Str("message_id", msg.ID).Str("subject", msg.SubjectOrDefault()).Logger()

	prior, err := p.registry.GetProcessed(msg.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to check processed registry")
		p.retryLater(ctx, msg.ID, logger)
		result.Failed++
		return
	}
	if prior != nil {
		logger.Info().Str("outcome", prior.Outcome).Msg("message already processed, skipping")
		if prior.Outcome == OutcomeNotConfirmation && p.disposition.Policy() == mailbox.PolicyMarkUnread {
			p.dispose(ctx, msg.ID, logger)
		}
		result.AlreadyProcessed++
		return
	}

	sender := msg.SenderAddress()
	identity, known := p.resolver.Resolve(sender)
	if !known {
		logger.Info().Str("sender", sender).Msg("sender not registered in entity directory")
	}

	content := extractor.ContentOf(msg)
	content.MyEntity = p.config.MyEntity
	content.CounterpartyName = identity.EntityName
	content.ClientID = identity.ClientID

	extractCtx, cancel := context.WithTimeout(ctx, p.config.ExtractTimeout)
	raw, err := p.extractor.Extract(extractCtx, content)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("extraction failed, message left for the next cycle")
		p.retryLater(ctx, msg.ID, logger)
		result.Failed++
		return
	}

	ex, err := extraction.Validate(raw)
	if err != nil {
		logger.Error().Err(err).Int("response_length", len(raw)).Msg("invalid extraction document")
		p.register(msg.ID, result.CycleID, OutcomeInvalidExtraction, 0, err.Error(), logger)
		result.Failed++
		return
	}

	outcome, err := p.reconciler.Reconcile(types.EmailContext{
		MessageID: msg.ID,
		Sender:    sender,
		Date:      msg.Date(),
		Time:      msg.Time(),
		Subject:   msg.SubjectOrDefault(),
		Body:      msg.BodyOrDefault(),
	}, ex)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record reconciliation, message left for the next cycle")
		p.retryLater(ctx, msg.ID, logger)
		result.Failed++
		return
	}

	if !outcome.IsConfirmation {
		p.dispose(ctx, msg.ID, logger)
		p.register(msg.ID, result.CycleID, OutcomeNotConfirmation, 0, "", logger)
		result.NotConfirmations++
		return
	}

	p.register(msg.ID, result.CycleID, OutcomeReconciled, len(outcome.Trades), "", logger)
	result.Reconciled++
}

func (p *Processor) dispose(ctx context.Context, id string, logger zerolog.Logger) {
	if err := p.disposition.NotConfirmation(ctx, id); err != nil {
		logger.Error().Err(err).Str("policy", string(p.disposition.Policy())).Msg("failed to dispose of non-confirmation")
	}
}

// retryLater flags the message unread so the next cycle picks it up again
func (p *Processor) retryLater(ctx context.Context, id string, logger zerolog.Logger) {
	if err := p.mailbox.MarkUnread(ctx, id); err != nil && !errors.Is(err, mailbox.ErrMessageNotFound) {
		logger.Error().Err(err).Msg("failed to mark message unread")
	}
}

func (p *Processor) register(id, cycleID, outcome string, trades int, detail string, logger zerolog.Logger) {
	err := p.registry.MarkProcessed(&ProcessedMessage{
		MessageID:   id,
		CycleID:     cycleID,
		Outcome:     outcome,
		Trades:      trades,
		Detail:      detail,
		ProcessedAt: time.Now(),
	})
	if err != nil {
		logger.Error().Err(err).Str("outcome", outcome).Msg("failed to register processed message")
	}
}
