package poller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ksred/klear-confirm/internal/entity"
	"github.com/ksred/klear-confirm/internal/extractor"
	"github.com/ksred/klear-confirm/internal/mailbox"
	"github.com/ksred/klear-confirm/internal/reconcile"
	"github.com/ksred/klear-confirm/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const confirmationDoc = `{
  "Email": {"Email_subject": "Conf", "Email_sender": "ops@bank.cl", "Confirmation": "yes", "Num_trades": 1},
  "Trades": [{"TradeNumber": "1001", "Confirmation_OK": "yes"}]
}`

const notConfirmationDoc = "```json\n{\"Email\": {\"Confirmation\": \"no\"}, \"Trades\": []}\n```"

type staticResolver map[string]entity.Identity

func (r staticResolver) Resolve(sender string) (entity.Identity, bool) {
	id, ok := r[sender]
	return id, ok
}

type recordingReconciler struct {
	mu     sync.Mutex
	emails []types.EmailContext
	err    error
}

func (r *recordingReconciler) Reconcile(email types.EmailContext, ex *types.EmailExtraction) (*reconcile.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.emails = append(r.emails, email)
	out := &reconcile.Outcome{IsConfirmation: ex.Email.IsConfirmation}
	for _, ref := range ex.Trades {
		out.Trades = append(out.Trades, reconcile.TradeOutcome{TradeNumber: ref.TradeNumber()})
	}
	return out, nil
}

type countingRefresher struct{ calls int }

func (c *countingRefresher) Refresh() error {
	c.calls++
	return nil
}

type capturingExtractor struct {
	inner    extractor.Extractor
	contents []extractor.Content
}

func (c *capturingExtractor) Extract(ctx context.Context, content extractor.Content) (string, error) {
	c.contents = append(c.contents, content)
	return c.inner.Extract(ctx, content)
}

type fixture struct {
	processor  *Processor
	mailbox    *mailbox.Dir
	reconciler *recordingReconciler
	registry   *Database
	refresher  *countingRefresher
	extractor  *capturingExtractor
}

func newFixture(t *testing.T, policy mailbox.Policy) *fixture {
	t.Helper()
	dir := t.TempDir()

	mb, err := mailbox.NewDir(filepath.Join(dir, "mailbox"), "Inbox/Confirmations", zerolog.Nop())
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "poller.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ProcessedMessage{}))

	f := &fixture{
		mailbox:    mb,
		reconciler: &recordingReconciler{},
		registry:   NewDatabase(db),
		refresher:  &countingRefresher{},
		extractor:  &capturingExtractor{inner: extractor.NewReplay(mb.Path())},
	}
	resolver := staticResolver{"ops@bank.cl": {EntityName: "Bank CL", ClientID: "C-1"}}
	f.processor = NewProcessor(
		mb,
		mailbox.NewDisposition(mb, policy, ""),
		f.extractor,
		resolver,
		f.reconciler,
		f.registry,
		Config{MyEntity: "Klear", ExtractTimeout: time.Second},
		zerolog.Nop(),
		f.refresher,
	)
	return f
}

func (f *fixture) deliver(t *testing.T, id, doc string) {
	t.Helper()
	subject := "Subject " + id
	sender := "ops=bank.cl@sandbox.mgsend.net"
	at := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, f.mailbox.Deliver(mailbox.Message{ID: id, Subject: &subject, Sender: &sender, ReceivedAt: &at}))
	if doc != "" {
		require.NoError(t, os.WriteFile(filepath.Join(f.mailbox.Path(), id+mailbox.ExtractionSuffix), []byte(doc), 0o644))
	}
}

func TestRunCycle_ReconcilesAndRegisters(t *testing.T) {
	f := newFixture(t, mailbox.PolicyMove)
	f.deliver(t, "m1", confirmationDoc)

	result, err := f.processor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, 1, result.Reconciled)
	assert.NotEmpty(t, result.CycleID)
	assert.Equal(t, 1, f.refresher.calls)

	require.Len(t, f.reconciler.emails, 1)
	email := f.reconciler.emails[0]
	assert.Equal(t, "m1", email.MessageID)
	assert.Equal(t, "ops@bank.cl", email.Sender)
	assert.Equal(t, "2025-03-05", email.Date)
	assert.Equal(t, "10:00:00", email.Time)
	assert.Equal(t, mailbox.NoBodyContent, email.Body)

	require.Len(t, f.extractor.contents, 1)
	assert.Equal(t, "Klear", f.extractor.contents[0].MyEntity)
	assert.Equal(t, "Bank CL", f.extractor.contents[0].CounterpartyName)
	assert.Equal(t, "C-1", f.extractor.contents[0].ClientID)

	prior, err := f.registry.GetProcessed("m1")
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, OutcomeReconciled, prior.Outcome)
	assert.Equal(t, 1, prior.Trades)

	// redelivery of a processed message is skipped
	require.NoError(t, f.mailbox.MarkUnread(context.Background(), "m1"))
	result, err = f.processor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlreadyProcessed)
	assert.Len(t, f.reconciler.emails, 1)
}

func TestRunCycle_NotConfirmationMoved(t *testing.T) {
	f := newFixture(t, mailbox.PolicyMove)
	f.deliver(t, "m2", notConfirmationDoc)

	result, err := f.processor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotConfirmations)
	assert.NoFileExists(t, filepath.Join(f.mailbox.Path(), "m2.json"))

	prior, err := f.registry.GetProcessed("m2")
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, OutcomeNotConfirmation, prior.Outcome)
}

func TestRunCycle_NotConfirmationMarkedUnread(t *testing.T) {
	f := newFixture(t, mailbox.PolicyMarkUnread)
	f.deliver(t, "m3", notConfirmationDoc)

	_, err := f.processor.RunCycle(context.Background())
	require.NoError(t, err)

	// still unread, fetched again but not reprocessed
	result, err := f.processor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, 1, result.AlreadyProcessed)
	assert.Len(t, f.extractor.contents, 1)
}

func TestRunCycle_FailuresAreIsolated(t *testing.T) {
	f := newFixture(t, mailbox.PolicyMove)
	f.deliver(t, "a-invalid", "not json at all")
	f.deliver(t, "b-missing", "")
	f.deliver(t, "c-good", confirmationDoc)

	result, err := f.processor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 1, result.Reconciled)

	invalid, err := f.registry.GetProcessed("a-invalid")
	require.NoError(t, err)
	require.NotNil(t, invalid)
	assert.Equal(t, OutcomeInvalidExtraction, invalid.Outcome)

	// extraction failures are retried on the next cycle
	missing, err := f.registry.GetProcessed("b-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	result, err = f.processor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, 1, result.Failed)
}

func TestRunCycle_StorageFailureRetried(t *testing.T) {
	f := newFixture(t, mailbox.PolicyMove)
	f.reconciler.err = errors.New("disk full")
	f.deliver(t, "m4", confirmationDoc)

	result, err := f.processor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	prior, err := f.registry.GetProcessed("m4")
	require.NoError(t, err)
	assert.Nil(t, prior)

	f.reconciler.err = nil
	result, err = f.processor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reconciled)
}

func TestRunCycle_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t, mailbox.PolicyMove)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.processor.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.refresher.calls)
}

func TestMarkProcessed_KeepsFirstEntry(t *testing.T) {
	f := newFixture(t, mailbox.PolicyMove)

	require.NoError(t, f.registry.MarkProcessed(&ProcessedMessage{MessageID: "x", Outcome: OutcomeReconciled}))
	require.NoError(t, f.registry.MarkProcessed(&ProcessedMessage{MessageID: "x", Outcome: OutcomeInvalidExtraction}))

	prior, err := f.registry.GetProcessed("x")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, prior.Outcome)

	recent, err := f.registry.RecentProcessed(10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
