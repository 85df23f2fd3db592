package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/metrics"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for unknown or expired import ids.
	ErrSessionNotFound = errors.New("import not found")

	// ErrNotReady is returned when a commit is requested for a batch that
	// still has blocking problems or has already been committed.
	ErrNotReady = errors.New("import is not ready to commit")
)

// DefaultSessionTTL is how long a staged import is kept.
const DefaultSessionTTL = 30 * time.Minute

// ServiceOptions configures a Service. Zero values take package defaults.
type ServiceOptions struct {
	Palette            []string
	ImageExt           string
	StrictArchiveNames bool
	MaxImageSize       int64

	UploadBatchSize   int
	UploadPhaseWeight int
	AssetFolder       string

	MaxConcurrent int
	MaxWaitTime   time.Duration

	// CommitTimeout bounds a whole commit. Zero leaves it to the
	// underlying network calls.
	CommitTimeout time.Duration
	SessionTTL    time.Duration

	Metrics *metrics.ImportMetrics
}

// Service runs bulk imports as sessions: stage (read, parse, extract,
// validate), optionally revalidate, then commit in the background while
// subscribers watch progress.
type Service struct {
	lookup    SkuLookup
	parser    *Parser
	extractor *Extractor
	committer *Committer
	limiter   *ImportLimiter
	metrics   *metrics.ImportMetrics

	commitTimeout time.Duration
	sessionTTL    time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*importSession
}

// NewService wires the pipeline stages around the given collaborators.
func NewService(lookup SkuLookup, store RecordStore, issuer CredentialIssuer, uploader AssetUploader, opts ServiceOptions) *Service {
	parser := NewParser(opts.Palette, opts.ImageExt)
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{
		lookup: lookup,
		parser: parser,
		extractor: NewExtractor(ExtractorOptions{
			ImageExt:     parser.ImageExt(),
			Strict:       opts.StrictArchiveNames,
			MaxEntrySize: opts.MaxImageSize,
		}),
		committer: NewCommitter(store, issuer, uploader, CommitterOptions{
			BatchSize:    opts.UploadBatchSize,
			UploadWeight: opts.UploadPhaseWeight,
			Folder:       opts.AssetFolder,
			Metrics:      opts.Metrics,
		}),
		limiter:       NewImportLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		metrics:       opts.Metrics,
		commitTimeout: opts.CommitTimeout,
		sessionTTL:    ttl,
		now:           time.Now,
		sessions:      make(map[string]*importSession),
	}
}

// StageInput is one import attempt: a sheet and an optional image archive.
type StageInput struct {
	SheetName string
	Sheet     []byte
	Archive   []byte
}

// StagedImport is the validation snapshot of a session.
type StagedImport struct {
	ID           string          `json:"id"`
	Products     []ParsedProduct `json:"products"`
	ProductCount int             `json:"productCount"`
	VariantCount int             `json:"variantCount"`
	ParseErrors  []ParseError    `json:"parseErrors"`
	Conflicts    ConflictReport  `json:"conflicts"`
	Images       ImageReport     `json:"images"`
	Archive      *Extraction     `json:"archive"`
	Ready        bool            `json:"ready"`
	ExpiresAt    time.Time       `json:"expiresAt"`
}

// CommitRequest resolves store conflicts before a commit. Replace turns the
// listed conflicting SKUs into ReplaceExisting products; Skip drops the
// listed SKUs from the batch.
type CommitRequest struct {
	Replace []string `json:"replace"`
	Skip    []string `json:"skip"`
}

type importSession struct {
	id       string
	products []ParsedProduct
	assets   ExtractedAssets
	staged   StagedImport

	progress ImportProgress
	result   *CommitResult
	err      error
	started  bool
	done     chan struct{}
	expiry   *time.Timer

	listenerMu sync.Mutex
	listeners  []chan ImportProgress
}

// Stage reads and validates an import and keeps it as a session.
// Row-level problems are returned as data in the snapshot; only unreadable
// input or an unreachable store yields an error.
func (s *Service) Stage(ctx context.Context, in StageInput) (*StagedImport, error) {
	start := s.now()

	rows, err := ReadRows(in.SheetName, in.Sheet)
	if err != nil {
		return nil, err
	}
	parsed := s.parser.Parse(rows)
	s.metrics.ObserveStage("parse", time.Since(start))

	extraction := &Extraction{Assets: ExtractedAssets{}}
	if len(in.Archive) > 0 {
		extractStart := time.Now()
		extraction, err = s.extractor.Extract(ctx, in.Archive)
		if err != nil {
			return nil, err
		}
		s.metrics.ObserveStage("extract", time.Since(extractStart))
	}

	id := uuid.New().String()
	sess := &importSession{
		id:       id,
		products: parsed.Products,
		assets:   extraction.Assets,
		progress: ImportProgress{ImportID: id, Phase: PhaseStaged},
		done:     make(chan struct{}),
	}
	sess.staged = StagedImport{
		ID:           id,
		Products:     parsed.Products,
		ProductCount: len(parsed.Products),
		VariantCount: parsed.VariantCount(),
		ParseErrors:  parsed.Errors,
		Archive:      extraction,
		ExpiresAt:    s.now().Add(s.sessionTTL),
	}
	if sess.staged.ParseErrors == nil {
		sess.staged.ParseErrors = []ParseError{}
	}

	if err := s.reconcile(ctx, sess); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	s.scheduleExpiry(sess)

	logging.WithFields(ctx, "import_id", id).Info("import staged",
		"products", sess.staged.ProductCount,
		"variants", sess.staged.VariantCount,
		"parse_errors", len(sess.staged.ParseErrors),
		"ready", sess.staged.Ready,
	)
	snapshot := sess.staged
	return &snapshot, nil
}

// Revalidate re-runs the store and image checks for a staged session, for
// example after conflicting records were removed from the store.
func (s *Service) Revalidate(ctx context.Context, id string) (*StagedImport, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	started := sess.started
	s.mu.Unlock()
	if started {
		return nil, fmt.Errorf("%w: commit already started", ErrNotReady)
	}

	if err := s.reconcile(ctx, sess); err != nil {
		return nil, err
	}
	s.mu.RLock()
	snapshot := sess.staged
	s.mu.RUnlock()
	return &snapshot, nil
}

// reconcile refreshes the conflict and image reports of sess.
func (s *Service) reconcile(ctx context.Context, sess *importSession) error {
	start := time.Now()
	conflicts, err := Validate(ctx, sess.products, s.lookup)
	if err != nil {
		return err
	}
	images := CheckImages(sess.products, sess.assets)
	s.metrics.ObserveStage("validate", time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()
	sess.staged.Conflicts = conflicts
	sess.staged.Images = images
	sess.staged.Ready = len(sess.staged.ParseErrors) == 0 &&
		len(sess.products) > 0 &&
		conflicts.Clear() &&
		images.Complete()
	return nil
}

// StartCommit begins committing a staged session in the background and
// returns once an import slot is held. Use SubscribeProgress and
// GetCommitResult to follow it.
//
// The batch must be free of parse errors, internal duplicates and missing
// images. Store conflicts must each be listed in req.Replace or req.Skip.
func (s *Service) StartCommit(ctx context.Context, id string, req CommitRequest) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if sess.started {
		s.mu.Unlock()
		return fmt.Errorf("%w: commit already started", ErrNotReady)
	}
	products, reasons := resolveBatch(sess.products, sess.staged, req)
	if len(reasons) > 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotReady, strings.Join(reasons, "; "))
	}
	sess.started = true
	s.mu.Unlock()

	if err := s.limiter.Acquire(ctx); err != nil {
		s.mu.Lock()
		sess.started = false
		s.mu.Unlock()
		return err
	}

	logger := logging.WithFields(ctx, "import_id", id)
	s.metrics.CommitStarted()

	commitCtx := logging.WithLogger(context.WithoutCancel(ctx), logger)
	var cancel context.CancelFunc = func() {}
	if s.commitTimeout > 0 {
		commitCtx, cancel = context.WithTimeout(commitCtx, s.commitTimeout)
	}

	go func() {
		defer s.limiter.Release()
		defer s.metrics.CommitFinished()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in import commit", slog.Any("panic", r))
				s.finish(sess, nil, fmt.Errorf("internal error: %v", r))
			}
		}()

		result, err := s.committer.Commit(commitCtx, products, sess.assets, func(p CommitProgress) {
			s.setProgress(sess, p)
		})
		s.finish(sess, result, err)
	}()

	return nil
}

// resolveBatch applies req to products and lists what still blocks a commit.
func resolveBatch(products []ParsedProduct, staged StagedImport, req CommitRequest) ([]ParsedProduct, []string) {
	var reasons []string
	if n := len(staged.ParseErrors); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d parse error(s)", n))
	}
	if n := len(staged.Conflicts.InternalDuplicates); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d duplicate SKU(s) in the file", n))
	}
	if n := len(staged.Images.Missing); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d missing image(s)", n))
	}

	existing := make(map[string]string, len(staged.Conflicts.StoreConflicts))
	for _, c := range staged.Conflicts.StoreConflicts {
		existing[c.SKU] = c.ExistingID
	}

	var unresolved []string
	out := make([]ParsedProduct, 0, len(products))
	for _, p := range products {
		if slices.Contains(req.Skip, p.SKU) {
			continue
		}
		if existingID, conflict := existing[p.SKU]; conflict {
			if !slices.Contains(req.Replace, p.SKU) {
				unresolved = append(unresolved, p.SKU)
				continue
			}
			p.Mode = ReplaceExisting(existingID)
		}
		out = append(out, p)
	}
	if len(unresolved) > 0 {
		reasons = append(reasons, "SKU(s) already in the catalog: "+strings.Join(unresolved, ", "))
	}
	if len(out) == 0 && len(reasons) == 0 {
		reasons = append(reasons, "no products to commit")
	}
	return out, reasons
}

// setProgress records and broadcasts commit progress.
func (s *Service) setProgress(sess *importSession, p CommitProgress) {
	s.mu.Lock()
	sess.progress.Phase = p.Phase
	sess.progress.Percent = p.Percent
	sess.progress.Done = p.Done
	sess.progress.Total = p.Total
	sess.progress.SKU = p.SKU
	snapshot := sess.progress
	s.mu.Unlock()

	sess.notify(snapshot)
}

// finish stores the outcome, wakes waiters and schedules cleanup.
func (s *Service) finish(sess *importSession, result *CommitResult, err error) {
	s.mu.Lock()
	select {
	case <-sess.done:
		s.mu.Unlock()
		return
	default:
	}
	sess.result = result
	sess.err = err
	if err != nil {
		sess.progress.Phase = PhaseFailed
		sess.progress.Error = err.Error()
	} else {
		sess.progress.Phase = PhaseComplete
		sess.progress.Percent = 100
	}
	snapshot := sess.progress
	close(sess.done)
	s.mu.Unlock()

	sess.notify(snapshot)
	sess.closeListeners()
	s.scheduleExpiry(sess)
}

// SubscribeProgress returns a channel of progress updates for a session.
// The current state is sent immediately. The channel is closed when the
// commit finishes or the session is discarded.
func (s *Service) SubscribeProgress(id string) (<-chan ImportProgress, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)

	// Holding listenerMu across snapshot and registration orders this call
	// with finish: either the snapshot is already terminal or the terminal
	// update is delivered to ch before it is closed.
	sess.listenerMu.Lock()
	defer sess.listenerMu.Unlock()

	s.mu.RLock()
	snapshot := sess.progress
	finished := isClosed(sess.done)
	s.mu.RUnlock()

	ch <- snapshot
	if finished {
		close(ch)
		return ch, nil
	}
	sess.listeners = append(sess.listeners, ch)
	return ch, nil
}

// GetCommitResult blocks until the session's commit finishes or ctx ends.
func (s *Service) GetCommitResult(ctx context.Context, id string) (*CommitResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	started := sess.started
	s.mu.RUnlock()
	if !started {
		return nil, fmt.Errorf("%w: commit not started", ErrNotReady)
	}

	select {
	case <-sess.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return sess.result, sess.err
}

// CommitOutcome returns a finished commit's result without blocking.
// done is false while the commit is still running.
func (s *Service) CommitOutcome(id string) (result *CommitResult, done bool, err error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !sess.started {
		return nil, false, fmt.Errorf("%w: commit not started", ErrNotReady)
	}
	if !isClosed(sess.done) {
		return nil, false, nil
	}
	return sess.result, true, sess.err
}

// GetProgress returns the current progress without blocking.
func (s *Service) GetProgress(id string) (ImportProgress, error) {
	sess, err := s.session(id)
	if err != nil {
		return ImportProgress{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sess.progress, nil
}

// Discard drops a session that is not committing. A commit in flight runs
// to completion and cannot be discarded.
func (s *Service) Discard(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if sess.started && !isClosed(sess.done) {
		s.mu.Unlock()
		return fmt.Errorf("%w: commit in progress", ErrNotReady)
	}
	delete(s.sessions, id)
	if sess.expiry != nil {
		sess.expiry.Stop()
	}
	s.mu.Unlock()

	sess.closeListeners()
	return nil
}

// LimiterStatus reports commit slot usage.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until running commits finish or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) session(id string) (*importSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// scheduleExpiry (re)arms the session's TTL timer. A session whose commit is
// running is never expired.
func (s *Service) scheduleExpiry(sess *importSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.expiry != nil {
		sess.expiry.Stop()
	}
	sess.expiry = time.AfterFunc(s.sessionTTL, func() {
		s.mu.Lock()
		if sess.started && !isClosed(sess.done) {
			s.mu.Unlock()
			return
		}
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		sess.closeListeners()
	})
}

// notify sends progress to every listener, skipping slow ones.
func (sess *importSession) notify(p ImportProgress) {
	sess.listenerMu.Lock()
	defer sess.listenerMu.Unlock()

	for _, ch := range sess.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

// closeListeners closes all listener channels.
func (sess *importSession) closeListeners() {
	sess.listenerMu.Lock()
	defer sess.listenerMu.Unlock()

	for _, ch := range sess.listeners {
		close(ch)
	}
	sess.listeners = nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
