package core

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// Collaborator fakes
// ----------------------------------------------------------------------------

type fakeLookup struct {
	mu      sync.Mutex
	records []ExistingRecord
	calls   [][]string
	err     error
}

func (f *fakeLookup) LookupExisting(_ context.Context, skus []string) ([]ExistingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slices.Clone(skus))
	if f.err != nil {
		return nil, f.err
	}
	var out []ExistingRecord
	for _, r := range f.records {
		if slices.Contains(skus, r.SKU) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLookup) set(records ...ExistingRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
}

type fakeStore struct {
	mu           sync.Mutex
	nextID       int
	products     map[string]ProductRecord // id -> record
	variants     map[string][]VariantRecord
	updated      []string
	failCreate   map[string]error // by SKU
	failVariants map[string]error // by SKU
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:     make(map[string]ProductRecord),
		variants:     make(map[string][]VariantRecord),
		failCreate:   make(map[string]error),
		failVariants: make(map[string]error),
	}
}

func (f *fakeStore) CreateProduct(_ context.Context, p ProductRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCreate[p.SKU]; err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("prod-%d", f.nextID)
	f.products[id] = p
	return id, nil
}

func (f *fakeStore) CreateVariants(_ context.Context, productID string, variants []VariantRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failVariants[f.products[productID].SKU]; err != nil {
		return 0, err
	}
	f.variants[productID] = append(f.variants[productID], variants...)
	return len(variants), nil
}

func (f *fakeStore) UpdateProduct(_ context.Context, id string, p ProductRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[id] = p
	f.updated = append(f.updated, id)
	return nil
}

func (f *fakeStore) ReplaceVariants(_ context.Context, productID string, variants []VariantRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variants[productID] = slices.Clone(variants)
	return len(variants), nil
}

func (f *fakeStore) productBySKU(sku string) (string, ProductRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.products {
		if p.SKU == sku {
			return id, p, true
		}
	}
	return "", ProductRecord{}, false
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.products)
}

type fakeIssuer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeIssuer) Issue(_ context.Context, folder string) (UploadCredential, error) {
	f.calls.Add(1)
	if f.err != nil {
		return UploadCredential{}, f.err
	}
	return UploadCredential{Signature: "sig", Timestamp: time.Now(), Folder: folder}, nil
}

type fakeUploader struct {
	mu          sync.Mutex
	uploaded    []string
	failOn      map[string]bool
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (f *fakeUploader) Upload(ctx context.Context, a Asset, cred UploadCredential) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if n <= prev || f.maxInFlight.CompareAndSwap(prev, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failOn[a.Name] {
		return "", errors.New("asset host returned 503")
	}

	f.mu.Lock()
	f.uploaded = append(f.uploaded, a.Name)
	f.mu.Unlock()
	return "https://cdn.test/" + cred.Folder + "/" + a.Name, nil
}

// ----------------------------------------------------------------------------
// Input builders
// ----------------------------------------------------------------------------

const csvHeader = "SKU,Name,Description,Category,Color,Stock,Price,PriceRetail,PriceWholesale,Images"

// csvSheet returns a CSV sheet with the template header and lines.
func csvSheet(lines ...string) []byte {
	return []byte(csvHeader + "\n" + strings.Join(lines, "\n") + "\n")
}

// zipArchive builds a zip from name/content pairs.
func zipArchive(t *testing.T, files ...string) []byte {
	t.Helper()
	if len(files)%2 != 0 {
		t.Fatal("zipArchive needs name/content pairs")
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i < len(files); i += 2 {
		w, err := zw.Create(files[i])
		if err != nil {
			t.Fatalf("create %s: %v", files[i], err)
		}
		if _, err := w.Write([]byte(files[i+1])); err != nil {
			t.Fatalf("write %s: %v", files[i], err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// rows849 returns the canonical two-color example rows.
func rows849() []RawRow {
	return []RawRow{
		{
			ColSKU: "849", ColName: "Bag", ColDescription: "Leather shoulder bag", ColCategory: "Bags",
			ColColor: "Red", ColStock: "10", ColPrice: "450", ColPriceRetail: "650", ColPriceWholesale: "550",
			ColImages: "849_red_1.webp, 849_red_2.webp",
		},
		{
			ColSKU: "", ColName: "", ColDescription: "", ColCategory: "",
			ColColor: "Black", ColStock: "15", ColPrice: "450", ColPriceRetail: "650", ColPriceWholesale: "550",
			ColImages: "849_black_1.webp",
		},
	}
}

// recorder collects progress callbacks.
type recorder struct {
	mu     sync.Mutex
	events []CommitProgress
}

func (r *recorder) fn(p CommitProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recorder) percents() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.events))
	for i, e := range r.events {
		out[i] = e.Percent
	}
	return out
}
