// Package core provides the business logic for bulk catalog imports.
//
// This package contains the import pipeline independent of any transport.
// Web handlers, CLI tools and tests drive it through [Service] or by calling
// the stages directly.
//
// # Pipeline
//
// An import is a product sheet (CSV or XLSX) plus a zip of product images:
//
//  1. [ReadRows] decodes the sheet into header-keyed rows.
//  2. [Parser.Parse] folds rows into products. A row with a blank SKU adds
//     a color variant to the product above it. Row problems are collected
//     as [ParseError] values, never returned as errors.
//  3. [Extractor.Extract] flattens the archive into a name to bytes map.
//  4. [Validate] reports SKUs repeated in the batch and SKUs already in the
//     store. [CheckImages] reports referenced images missing from the
//     archive.
//  5. [Committer.Commit] uploads every image in bounded batches, aborting
//     on the first failure, then writes products one at a time. A failing
//     product is recorded and the next one is attempted.
//
// Steps 1-4 have no side effects and can be re-run freely. [Service] keeps
// their output as a session so the caller can review problems, resolve
// store conflicts with replace or skip, and commit in the background.
//
// # Progress
//
// Commit progress is a single 0-100 percentage. The upload phase covers
// 0 to the upload weight (50 by default) and the record phase covers the
// rest. Reported values never decrease and a successful commit ends at 100.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code prefix for support reference: DB, VAL, FILE,
// ARC, IMP, UPL and RATE.
package core
