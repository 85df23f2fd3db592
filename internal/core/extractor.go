package core

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/logging"
)

var (
	// ErrInvalidArchive is returned when the bundle cannot be opened as a zip.
	ErrInvalidArchive = errors.New("invalid archive")

	// ErrNameCollision is returned in strict mode when two archive entries
	// flatten to the same file name.
	ErrNameCollision = errors.New("archive name collision")

	// ErrImageTooLarge is returned when an entry exceeds the per-image cap.
	ErrImageTooLarge = errors.New("archive image too large")
)

// DefaultMaxImageSize caps a single decompressed archive entry (20MB).
const DefaultMaxImageSize int64 = 20 << 20

// Extraction is the result of unpacking an image archive.
type Extraction struct {
	Assets     ExtractedAssets `json:"-"`
	Skipped    []string        `json:"skipped,omitempty"`    // Entries with a foreign extension
	Empty      []string        `json:"empty,omitempty"`      // Zero-byte entries that were dropped
	Collisions []string        `json:"collisions,omitempty"` // Flattened names written more than once
}

// Names returns the extracted file names.
func (e *Extraction) Names() []string {
	names := make([]string, 0, len(e.Assets))
	for name := range e.Assets {
		names = append(names, name)
	}
	return names
}

// Extractor unpacks zip bundles of product images.
type Extractor struct {
	ext          string
	strict       bool
	maxEntrySize int64
}

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	ImageExt     string // Accepted extension, default DefaultImageExt
	Strict       bool   // Fail on flattened-name collisions instead of last-write-wins
	MaxEntrySize int64  // Per-entry decompressed cap, default DefaultMaxImageSize
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ExtractorOptions) *Extractor {
	ext := normalizeExt(opts.ImageExt)
	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = DefaultMaxImageSize
	}
	return &Extractor{ext: ext, strict: opts.Strict, maxEntrySize: opts.MaxEntrySize}
}

// Extract reads every qualifying entry of the zip in data.
//
// Directory entries and files without the accepted extension are skipped.
// Names are flattened to their base name and zero-byte files are dropped.
// When two entries flatten to the same name the later one wins unless the
// extractor is strict, in which case ErrNameCollision is returned.
func (x *Extractor) Extract(ctx context.Context, data []byte) (*Extraction, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	logger := logging.FromContext(ctx)
	out := &Extraction{Assets: make(ExtractedAssets)}
	sources := make(map[string]string)

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}

		name := path.Base(strings.ReplaceAll(f.Name, `\`, "/"))
		if !strings.HasSuffix(strings.ToLower(name), x.ext) || strings.HasPrefix(name, "._") {
			logger.Debug("skipping archive entry", "entry", f.Name, "want_ext", x.ext)
			out.Skipped = append(out.Skipped, f.Name)
			continue
		}

		blob, err := x.readEntry(f)
		if err != nil {
			return nil, err
		}
		if len(blob) == 0 {
			logger.Warn("dropping empty archive entry", "entry", f.Name)
			out.Empty = append(out.Empty, f.Name)
			continue
		}

		if prev, dup := sources[name]; dup {
			if x.strict {
				return nil, fmt.Errorf("%w: %s and %s both flatten to %s", ErrNameCollision, prev, f.Name, name)
			}
			logger.Warn("archive entry overwrites earlier entry",
				slog.String("name", name),
				slog.String("previous", prev),
				slog.String("entry", f.Name),
			)
			out.Collisions = append(out.Collisions, name)
		}
		sources[name] = f.Name
		out.Assets[name] = blob
	}

	logger.Info("archive extracted",
		"images", len(out.Assets),
		"skipped", len(out.Skipped),
		"empty", len(out.Empty),
		"collisions", len(out.Collisions),
	)
	return out, nil
}

// readEntry decompresses one entry, refusing anything over the size cap.
func (x *Extractor) readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidArchive, f.Name, err)
	}
	defer rc.Close()

	blob, err := io.ReadAll(io.LimitReader(rc, x.maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, f.Name, err)
	}
	if int64(len(blob)) > x.maxEntrySize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrImageTooLarge, f.Name, x.maxEntrySize)
	}
	return blob, nil
}
