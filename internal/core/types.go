package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Column headers of the import sheet, in template order.
const (
	ColSKU            = "SKU"
	ColName           = "Name"
	ColDescription    = "Description"
	ColCategory       = "Category"
	ColColor          = "Color"
	ColStock          = "Stock"
	ColPrice          = "Price"
	ColPriceRetail    = "PriceRetail"
	ColPriceWholesale = "PriceWholesale"
	ColImages         = "Images"
)

// Columns lists the sheet headers in template order.
var Columns = []string{
	ColSKU, ColName, ColDescription, ColCategory, ColColor,
	ColStock, ColPrice, ColPriceRetail, ColPriceWholesale, ColImages,
}

// RawRow is one sheet row keyed by column header.
type RawRow map[string]string

// Value returns the cell for col. Header matching ignores case, spaces,
// underscores and dashes, so "priceRetail", "Price Retail" and
// "PRICE_RETAIL" all resolve to the same column.
func (r RawRow) Value(col string) string {
	if v, ok := r[col]; ok {
		return CleanCell(v)
	}
	want := normalizeHeader(col)
	for k, v := range r {
		if normalizeHeader(k) == want {
			return CleanCell(v)
		}
	}
	return ""
}

// ParsedProduct is one catalog product assembled from one or more rows.
type ParsedProduct struct {
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Variants    []ParsedVariant `json:"variants"`

	// Row is the sheet row that introduced the product.
	Row int `json:"row"`

	// Occurrences lists every sheet row that starts a group for this SKU.
	// More than one means the SKU was repeated with other SKUs in between.
	Occurrences []Occurrence `json:"occurrences,omitempty"`

	// Mode selects create (zero value) or replace of an existing record.
	Mode CommitMode `json:"mode"`
}

// ParsedVariant is one color/stock/price/image combination of a product.
type ParsedVariant struct {
	Color          string          `json:"color"`
	Stock          int             `json:"stock"`
	Price          decimal.Decimal `json:"price"`
	PriceRetail    decimal.Decimal `json:"priceRetail"`
	PriceWholesale decimal.Decimal `json:"priceWholesale"`
	ImageNames     []string        `json:"imageNames"`
	Row            int             `json:"row"`
}

// CommitKind selects how a product is written.
type CommitKind string

const (
	CommitCreate  CommitKind = "create"
	CommitReplace CommitKind = "replace"
)

// CommitMode tells the committer whether to insert a new product or to
// overwrite an existing one. The zero value creates.
type CommitMode struct {
	Kind       CommitKind `json:"kind,omitempty"`
	ExistingID string     `json:"existingId,omitempty"`
}

// ReplaceExisting returns a mode that updates the stored product id and
// replaces its variants wholesale.
func ReplaceExisting(existingID string) CommitMode {
	return CommitMode{Kind: CommitReplace, ExistingID: existingID}
}

// IsReplace reports whether the mode targets an existing record.
func (m CommitMode) IsReplace() bool {
	return m.Kind == CommitReplace && m.ExistingID != ""
}

// ExtractedAssets maps a flattened archive file name to its bytes.
type ExtractedAssets map[string][]byte

// ExistingRecord is a stored product returned by a SKU lookup.
type ExistingRecord struct {
	SKU  string `json:"sku"`
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Occurrence is one appearance of a SKU in the batch.
type Occurrence struct {
	Index int    `json:"index"` // Position in the product list
	Row   int    `json:"row"`   // Sheet row (1-based, after the header)
	Name  string `json:"name"`
}

// InternalDuplicate groups every occurrence of a SKU repeated in the batch.
type InternalDuplicate struct {
	SKU         string       `json:"sku"`
	Occurrences []Occurrence `json:"occurrences"`
}

// StoreConflict pairs a batch product with the stored record sharing its SKU.
type StoreConflict struct {
	SKU          string `json:"sku"`
	ExistingID   string `json:"existingId"`
	ExistingName string `json:"existingName"`
	BatchName    string `json:"batchName"`
	BatchIndex   int    `json:"batchIndex"`
	Row          int    `json:"row"`
}

// ConflictReport is the result of reconciling a batch.
// The batch may not be committed while either list is non-empty.
type ConflictReport struct {
	InternalDuplicates []InternalDuplicate `json:"internalDuplicates"`
	StoreConflicts     []StoreConflict     `json:"storeConflicts"`
}

// Clear reports whether the batch has no conflicts.
func (r ConflictReport) Clear() bool {
	return len(r.InternalDuplicates) == 0 && len(r.StoreConflicts) == 0
}

// MissingImage is an image referenced by a variant but absent from the archive.
type MissingImage struct {
	Name  string `json:"name"`
	SKU   string `json:"sku"`
	Color string `json:"color"`
	Row   int    `json:"row"`
}

// ImageReport is the outcome of cross-referencing variants and archive.
// Missing entries block a commit; Unused entries are informational.
type ImageReport struct {
	Missing []MissingImage `json:"missing"`
	Unused  []string       `json:"unused"`
}

// Complete reports whether every referenced image exists.
func (r ImageReport) Complete() bool {
	return len(r.Missing) == 0
}

// Asset is one file handed to the asset host.
type Asset struct {
	Name        string
	Data        []byte
	ContentType string
}

// UploadCredential is the server-issued, time-limited signature that
// authorises uploads into a folder.
type UploadCredential struct {
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
	Folder    string    `json:"folder"`
}

// UploadResult is the per-asset outcome of the upload phase.
type UploadResult struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Err  string `json:"error,omitempty"`
}

// CommitResult aggregates the outcome of a commit.
// Partial success (some products failed) is a valid terminal state.
type CommitResult struct {
	ProductsCreated int            `json:"productsCreated"`
	ProductsUpdated int            `json:"productsUpdated"`
	VariantsCreated int            `json:"variantsCreated"`
	Errors          []string       `json:"errors"`
	Uploads         []UploadResult `json:"uploads,omitempty"`
	Duration        time.Duration  `json:"duration"`
}

// Succeeded reports whether every product was committed.
func (r *CommitResult) Succeeded() bool {
	return r != nil && len(r.Errors) == 0
}

// ProductRecord is the stored shape of a product.
type ProductRecord struct {
	SKU         string
	Name        string
	Description string
	Category    string
}

// VariantRecord is the stored shape of a variant.
type VariantRecord struct {
	Color          string
	Stock          int
	Price          decimal.Decimal
	PriceRetail    decimal.Decimal
	PriceWholesale decimal.Decimal
	ImageURLs      []string
}

// SkuLookup is the read side of the record store.
type SkuLookup interface {
	LookupExisting(ctx context.Context, skus []string) ([]ExistingRecord, error)
}

// RecordStore is the write side of the record store.
type RecordStore interface {
	CreateProduct(ctx context.Context, p ProductRecord) (string, error)
	CreateVariants(ctx context.Context, productID string, variants []VariantRecord) (int, error)
	UpdateProduct(ctx context.Context, id string, p ProductRecord) error
	ReplaceVariants(ctx context.Context, productID string, variants []VariantRecord) (int, error)
}

// CredentialIssuer hands out upload credentials for a folder.
type CredentialIssuer interface {
	Issue(ctx context.Context, folder string) (UploadCredential, error)
}

// AssetUploader stores one asset and returns its stable public URL.
type AssetUploader interface {
	Upload(ctx context.Context, asset Asset, cred UploadCredential) (string, error)
}

// ImportPhase indicates the current stage of an import commit.
type ImportPhase string

const (
	PhaseStaged     ImportPhase = "staged"
	PhaseUploading  ImportPhase = "uploading"
	PhaseCommitting ImportPhase = "committing"
	PhaseComplete   ImportPhase = "complete"
	PhaseFailed     ImportPhase = "failed"
)

// CommitProgress is reported by the committer after every unit of work.
type CommitProgress struct {
	Phase   ImportPhase `json:"phase"`
	Percent int         `json:"percent"`
	Done    int         `json:"done"`  // Units finished in the current phase
	Total   int         `json:"total"` // Units in the current phase
	SKU     string      `json:"sku,omitempty"`
}

// ProgressFunc receives commit progress. Calls are serialised.
type ProgressFunc func(CommitProgress)

// ImportProgress is the state broadcast to session subscribers.
type ImportProgress struct {
	ImportID string      `json:"importId"`
	Phase    ImportPhase `json:"phase"`
	Percent  int         `json:"percent"`
	Done     int         `json:"done"`
	Total    int         `json:"total"`
	SKU      string      `json:"sku,omitempty"`
	Error    string      `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}
