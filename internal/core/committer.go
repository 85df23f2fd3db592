package core

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrAssetUpload is returned when any asset upload fails. No product has
// been written when a commit returns this error.
var ErrAssetUpload = errors.New("asset upload failed")

const (
	// DefaultUploadBatchSize bounds concurrent uploads to the asset host.
	DefaultUploadBatchSize = 5

	// DefaultUploadPhaseWeight is the share of progress given to uploads.
	DefaultUploadPhaseWeight = 50

	// DefaultAssetFolder is the destination folder on the asset host.
	DefaultAssetFolder = "products"
)

// CommitterOptions tunes the commit policy.
type CommitterOptions struct {
	BatchSize    int    // Concurrent uploads per batch (default 5)
	UploadWeight int    // Percent of progress for the upload phase, 1-99 (default 50)
	Folder       string // Destination folder on the asset host
	Metrics      *metrics.ImportMetrics
}

// Committer writes a validated batch: it uploads images in bounded batches,
// then creates or replaces products one at a time.
type Committer struct {
	store    RecordStore
	issuer   CredentialIssuer
	uploader AssetUploader

	batchSize    int
	uploadWeight int
	folder       string
	metrics      *metrics.ImportMetrics
}

// NewCommitter creates a Committer. Zero options take the defaults.
func NewCommitter(store RecordStore, issuer CredentialIssuer, uploader AssetUploader, opts CommitterOptions) *Committer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultUploadBatchSize
	}
	if opts.UploadWeight <= 0 || opts.UploadWeight >= 100 {
		opts.UploadWeight = DefaultUploadPhaseWeight
	}
	if opts.Folder == "" {
		opts.Folder = DefaultAssetFolder
	}
	return &Committer{
		store:        store,
		issuer:       issuer,
		uploader:     uploader,
		batchSize:    opts.BatchSize,
		uploadWeight: opts.UploadWeight,
		folder:       opts.Folder,
		metrics:      opts.Metrics,
	}
}

// Commit runs both phases for products whose conflicts and missing images
// have already been cleared by the caller.
//
// Phase A uploads every asset, batchSize at a time, and aborts the whole
// commit on the first failure. Phase B writes products in order; a failing
// product is recorded in CommitResult.Errors and the next one is attempted.
// onProgress receives non-decreasing percentages ending at exactly 100.
func (c *Committer) Commit(ctx context.Context, products []ParsedProduct, assets ExtractedAssets, onProgress ProgressFunc) (*CommitResult, error) {
	start := time.Now()
	logger := logging.WithFields(ctx, "products", len(products), "assets", len(assets))
	progress := newProgressReporter(onProgress)
	result := &CommitResult{Errors: []string{}}

	urls, uploads, err := c.uploadAssets(ctx, assets, progress)
	result.Uploads = uploads
	c.metrics.ObserveStage("upload", time.Since(start))
	if err != nil {
		result.Duration = time.Since(start)
		logger.Error("asset upload aborted commit", "error", err)
		return result, fmt.Errorf("%w: %w", ErrAssetUpload, err)
	}

	recordStart := time.Now()
	total := len(products)
	for i, p := range products {
		if err := c.commitProduct(ctx, p, urls, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", p.SKU, err))
			c.metrics.IncProduct("failed")
			logger.Warn("product commit failed", "sku", p.SKU, "error", err)
		}
		progress.report(CommitProgress{
			Phase:   PhaseCommitting,
			Percent: c.uploadWeight + (i+1)*(100-c.uploadWeight)/total,
			Done:    i + 1,
			Total:   total,
			SKU:     p.SKU,
		})
	}
	if total == 0 {
		progress.report(CommitProgress{Phase: PhaseCommitting, Percent: 100})
	}
	c.metrics.ObserveStage("records", time.Since(recordStart))

	result.Duration = time.Since(start)
	logger.Info("commit finished",
		"created", result.ProductsCreated,
		"updated", result.ProductsUpdated,
		"variants", result.VariantsCreated,
		"errors", len(result.Errors),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// uploadAssets uploads assets in fixed-size batches. Uploads inside a batch
// run concurrently and the next batch starts only after all of them finish.
func (c *Committer) uploadAssets(ctx context.Context, assets ExtractedAssets, progress *progressReporter) (map[string]string, []UploadResult, error) {
	names := make([]string, 0, len(assets))
	for name := range assets {
		names = append(names, name)
	}
	sort.Strings(names)

	total := len(names)
	urls := make(map[string]string, total)
	uploads := make([]UploadResult, 0, total)
	if total == 0 {
		progress.report(CommitProgress{Phase: PhaseUploading, Percent: c.uploadWeight})
		return urls, uploads, nil
	}

	var (
		mu        sync.Mutex
		completed int
	)

	for start := 0; start < total; start += c.batchSize {
		end := min(start+c.batchSize, total)

		cred, err := c.issuer.Issue(ctx, c.folder)
		if err != nil {
			return urls, uploads, fmt.Errorf("issue upload credential: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, name := range names[start:end] {
			g.Go(func() error {
				asset := Asset{Name: name, Data: assets[name], ContentType: contentTypeFor(name, assets[name])}
				url, err := c.uploader.Upload(gctx, asset, cred)
				c.metrics.IncAssetUpload(err == nil)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					uploads = append(uploads, UploadResult{Name: name, Err: err.Error()})
					return fmt.Errorf("upload %s: %w", name, err)
				}
				uploads = append(uploads, UploadResult{Name: name, URL: url})
				urls[name] = url
				completed++
				progress.report(CommitProgress{
					Phase:   PhaseUploading,
					Percent: completed * c.uploadWeight / total,
					Done:    completed,
					Total:   total,
				})
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			sortUploads(uploads)
			return urls, uploads, err
		}
	}

	sortUploads(uploads)
	return urls, uploads, nil
}

// commitProduct writes one product and its variants, updating result counters.
func (c *Committer) commitProduct(ctx context.Context, p ParsedProduct, urls map[string]string, result *CommitResult) error {
	rec := ProductRecord{SKU: p.SKU, Name: p.Name, Description: p.Description, Category: p.Category}
	variants := variantRecords(p.Variants, urls)

	if p.Mode.IsReplace() {
		if err := c.store.UpdateProduct(ctx, p.Mode.ExistingID, rec); err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		n, err := c.store.ReplaceVariants(ctx, p.Mode.ExistingID, variants)
		if err != nil {
			return fmt.Errorf("replace variants: %w", err)
		}
		result.ProductsUpdated++
		result.VariantsCreated += n
		c.metrics.IncProduct("updated")
		return nil
	}

	id, err := c.store.CreateProduct(ctx, rec)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	n, err := c.store.CreateVariants(ctx, id, variants)
	if err != nil {
		return fmt.Errorf("create variants: %w", err)
	}
	result.ProductsCreated++
	result.VariantsCreated += n
	c.metrics.IncProduct("created")
	return nil
}

// variantRecords resolves image names to uploaded URLs.
// Names without an uploaded URL are dropped from the stored list.
func variantRecords(variants []ParsedVariant, urls map[string]string) []VariantRecord {
	out := make([]VariantRecord, 0, len(variants))
	for _, v := range variants {
		imageURLs := make([]string, 0, len(v.ImageNames))
		for _, name := range v.ImageNames {
			if url, ok := urls[name]; ok {
				imageURLs = append(imageURLs, url)
			}
		}
		out = append(out, VariantRecord{
			Color:          v.Color,
			Stock:          v.Stock,
			Price:          v.Price,
			PriceRetail:    v.PriceRetail,
			PriceWholesale: v.PriceWholesale,
			ImageURLs:      imageURLs,
		})
	}
	return out
}

func contentTypeFor(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func sortUploads(uploads []UploadResult) {
	sort.Slice(uploads, func(i, j int) bool { return uploads[i].Name < uploads[j].Name })
}

// progressReporter serialises progress callbacks and keeps them monotonic.
type progressReporter struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last int
}

func newProgressReporter(fn ProgressFunc) *progressReporter {
	return &progressReporter{fn: fn}
}

func (r *progressReporter) report(p CommitProgress) {
	if r == nil || r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p.Percent = max(0, min(100, p.Percent))
	if p.Percent < r.last {
		p.Percent = r.last
	}
	r.last = p.Percent
	r.fn(p)
}
