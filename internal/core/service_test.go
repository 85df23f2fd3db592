package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

type serviceFixture struct {
	svc      *Service
	lookup   *fakeLookup
	store    *fakeStore
	uploader *fakeUploader
}

func newServiceFixture(t *testing.T, opts ServiceOptions) *serviceFixture {
	t.Helper()
	f := &serviceFixture{lookup: &fakeLookup{}, store: newFakeStore(), uploader: &fakeUploader{}}
	f.svc = NewService(f.lookup, f.store, &fakeIssuer{}, f.uploader, opts)
	return f
}

func stage849(t *testing.T) StageInput {
	t.Helper()
	return StageInput{
		SheetName: "products.csv",
		Sheet: csvSheet(
			`849,Bag,Leather shoulder bag,Bags,Red,10,450,650,550,"849_red_1.webp,849_red_2.webp"`,
			",,,,Black,15,450,650,550,849_black_1.webp",
			"912,Wallet,,Accessories,Brown,25,120,180,150,",
		),
		Archive: zipArchive(t,
			"photos/849_red_1.webp", "r1",
			"photos/849_red_2.webp", "r2",
			"photos/849_black_1.webp", "b1",
			"photos/849_red_9.webp", "unused",
		),
	}
}

func waitResult(t *testing.T, svc *Service, id string) *CommitResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := svc.GetCommitResult(ctx, id)
	if err != nil {
		t.Fatalf("GetCommitResult() error = %v", err)
	}
	return result
}

func TestServiceStageAndCommit(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})

	staged, err := f.svc.Stage(context.Background(), stage849(t))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if !staged.Ready {
		t.Fatalf("staged import not ready: %+v", staged)
	}
	if staged.ProductCount != 2 || staged.VariantCount != 3 {
		t.Errorf("counts = %d/%d, want 2/3", staged.ProductCount, staged.VariantCount)
	}
	if len(staged.Images.Unused) != 1 || staged.Images.Unused[0] != "849_red_9.webp" {
		t.Errorf("Unused = %v", staged.Images.Unused)
	}

	updates, err := f.svc.SubscribeProgress(staged.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}

	if err := f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{}); err != nil {
		t.Fatalf("StartCommit() error = %v", err)
	}

	result := waitResult(t, f.svc, staged.ID)
	if result.ProductsCreated != 2 || result.VariantsCreated != 3 || !result.Succeeded() {
		t.Errorf("result = %+v", result)
	}

	var last ImportProgress
	for p := range updates {
		if p.Percent < last.Percent {
			t.Errorf("progress decreased from %d to %d", last.Percent, p.Percent)
		}
		last = p
	}
	if last.Phase != PhaseComplete || last.Percent != 100 {
		t.Errorf("last progress = %+v", last)
	}

	if err := f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("second StartCommit() error = %v, want ErrNotReady", err)
	}
}

func TestServiceStoreConflictNeedsResolution(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})
	f.lookup.set(ExistingRecord{SKU: "849", Name: "Old bag", ID: "id-849"})
	f.store.products["id-849"] = ProductRecord{SKU: "849", Name: "Old bag"}

	staged, err := f.svc.Stage(context.Background(), stage849(t))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if staged.Ready || len(staged.Conflicts.StoreConflicts) != 1 {
		t.Fatalf("staged = %+v", staged.Conflicts)
	}

	if err := f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("StartCommit() error = %v, want ErrNotReady", err)
	}

	if err := f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{Replace: []string{"849"}}); err != nil {
		t.Fatalf("StartCommit(replace) error = %v", err)
	}
	result := waitResult(t, f.svc, staged.ID)
	if result.ProductsUpdated != 1 || result.ProductsCreated != 1 {
		t.Errorf("result = %+v", result)
	}
	if f.store.products["id-849"].Name != "Bag" {
		t.Errorf("existing product not replaced: %+v", f.store.products["id-849"])
	}
}

func TestServiceSkipConflictingSKU(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})
	f.lookup.set(ExistingRecord{SKU: "912", Name: "Old wallet", ID: "id-912"})

	staged, err := f.svc.Stage(context.Background(), stage849(t))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if err := f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{Skip: []string{"912"}}); err != nil {
		t.Fatalf("StartCommit(skip) error = %v", err)
	}
	result := waitResult(t, f.svc, staged.ID)
	if result.ProductsCreated != 1 {
		t.Errorf("ProductsCreated = %d, want 1", result.ProductsCreated)
	}
	if _, _, ok := f.store.productBySKU("912"); ok {
		t.Error("skipped SKU was written")
	}
}

func TestServiceBlockingProblems(t *testing.T) {
	tests := []struct {
		name  string
		input func(t *testing.T) StageInput
	}{
		{
			name: "missing image",
			input: func(t *testing.T) StageInput {
				in := stage849(t)
				in.Archive = zipArchive(t, "849_red_1.webp", "r1")
				return in
			},
		},
		{
			name: "parse error",
			input: func(t *testing.T) StageInput {
				return StageInput{SheetName: "p.csv", Sheet: csvSheet("912,Wallet,,Accessories,Brown,-1,120,180,150,")}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, ServiceOptions{})
			staged, err := f.svc.Stage(context.Background(), tt.input(t))
			if err != nil {
				t.Fatalf("Stage() error = %v", err)
			}
			if staged.Ready {
				t.Fatal("Ready = true with blocking problems")
			}
			err = f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{})
			if !errors.Is(err, ErrNotReady) {
				t.Errorf("StartCommit() error = %v, want ErrNotReady", err)
			}
			if f.store.count() != 0 {
				t.Error("store written despite blocking problems")
			}
		})
	}
}

func TestServiceStageReportsRepeatedSKU(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})

	staged, err := f.svc.Stage(context.Background(), StageInput{
		SheetName: "products.csv",
		Sheet: csvSheet(
			"849,Bag,,Bags,Red,10,450,650,550,",
			"912,Wallet,,Accessories,Brown,25,120,180,150,",
			"849,Backpack,,Bags,Black,15,450,650,550,",
		),
	})
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if staged.Ready {
		t.Fatal("Ready = true with a repeated SKU")
	}
	if len(staged.ParseErrors) != 0 {
		t.Errorf("ParseErrors = %v, want none", staged.ParseErrors)
	}

	dups := staged.Conflicts.InternalDuplicates
	if len(dups) != 1 || dups[0].SKU != "849" {
		t.Fatalf("InternalDuplicates = %+v, want one for 849", dups)
	}
	var rows []int
	var names []string
	for _, o := range dups[0].Occurrences {
		rows = append(rows, o.Row)
		names = append(names, o.Name)
	}
	if len(rows) != 2 || rows[0] != 2 || rows[1] != 4 {
		t.Errorf("duplicate rows = %v, want [2 4]", rows)
	}
	if len(names) != 2 || names[0] != "Bag" || names[1] != "Backpack" {
		t.Errorf("duplicate names = %v, want [Bag Backpack]", names)
	}

	err = f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{})
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("StartCommit() error = %v, want ErrNotReady", err)
	}
	if f.store.count() != 0 {
		t.Error("store written despite a repeated SKU")
	}
}

func TestServiceStageRejectsUnreadableInput(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})

	in := stage849(t)
	in.Archive = []byte("not a zip")
	if _, err := f.svc.Stage(context.Background(), in); !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("Stage(bad archive) error = %v, want ErrInvalidArchive", err)
	}

	f.lookup.err = errors.New("connection refused")
	if _, err := f.svc.Stage(context.Background(), stage849(t)); err == nil {
		t.Error("Stage() with unreachable store should fail")
	}
}

func TestServiceRevalidate(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})
	f.lookup.set(ExistingRecord{SKU: "849", Name: "Old", ID: "id-849"})

	staged, err := f.svc.Stage(context.Background(), stage849(t))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if staged.Ready {
		t.Fatal("Ready = true with a store conflict")
	}

	f.lookup.set()
	again, err := f.svc.Revalidate(context.Background(), staged.ID)
	if err != nil {
		t.Fatalf("Revalidate() error = %v", err)
	}
	if !again.Ready || again.ID != staged.ID {
		t.Errorf("revalidated = %+v", again)
	}
}

func TestServiceDiscardAndUnknownIDs(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})
	staged, err := f.svc.Stage(context.Background(), stage849(t))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	if err := f.svc.Discard(staged.ID); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, err := f.svc.GetProgress(staged.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetProgress() after discard error = %v", err)
	}
	if err := f.svc.Discard("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Discard(unknown) error = %v", err)
	}
	if err := f.svc.StartCommit(context.Background(), "nope", CommitRequest{}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("StartCommit(unknown) error = %v", err)
	}
	if _, err := f.svc.GetCommitResult(context.Background(), staged.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetCommitResult(discarded) error = %v", err)
	}
}

func TestServiceResultBeforeCommit(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})
	staged, err := f.svc.Stage(context.Background(), stage849(t))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if _, err := f.svc.GetCommitResult(context.Background(), staged.ID); !errors.Is(err, ErrNotReady) {
		t.Errorf("GetCommitResult() error = %v, want ErrNotReady", err)
	}
}

func TestServiceFailedUploadReportsFailure(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})
	f.uploader.failOn = map[string]bool{"849_black_1.webp": true}

	staged, err := f.svc.Stage(context.Background(), stage849(t))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if err := f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{}); err != nil {
		t.Fatalf("StartCommit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.svc.GetCommitResult(ctx, staged.ID); !errors.Is(err, ErrAssetUpload) {
		t.Fatalf("GetCommitResult() error = %v, want ErrAssetUpload", err)
	}

	progress, err := f.svc.GetProgress(staged.ID)
	if err != nil {
		t.Fatal(err)
	}
	if progress.Phase != PhaseFailed || progress.Error == "" {
		t.Errorf("progress = %+v", progress)
	}

	// Late subscribers get the final state and a closed channel.
	ch, err := f.svc.SubscribeProgress(staged.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p := <-ch; p.Phase != PhaseFailed {
		t.Errorf("late subscriber phase = %s", p.Phase)
	}
	if _, open := <-ch; open {
		t.Error("late subscriber channel should be closed")
	}
	if f.store.count() != 0 {
		t.Error("records written after upload failure")
	}
}

func TestServiceSessionExpires(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{SessionTTL: 20 * time.Millisecond})
	staged, err := f.svc.Stage(context.Background(), stage849(t))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.svc.GetProgress(staged.ID); errors.Is(err, ErrSessionNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session did not expire")
}

func TestServiceWaitForImports(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})
	f.uploader.delay = 20 * time.Millisecond

	staged, err := f.svc.Stage(context.Background(), stage849(t))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if err := f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{}); err != nil {
		t.Fatalf("StartCommit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.svc.WaitForImports(ctx); err != nil {
		t.Fatalf("WaitForImports() error = %v", err)
	}
	if status := f.svc.LimiterStatus(); status.Active != 0 {
		t.Errorf("Active = %d after drain", status.Active)
	}
}

func TestServiceCommitOutcome(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})
	f.uploader.delay = 50 * time.Millisecond

	staged, err := f.svc.Stage(context.Background(), stage849(t))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if _, _, err := f.svc.CommitOutcome(staged.ID); !errors.Is(err, ErrNotReady) {
		t.Errorf("CommitOutcome() before commit error = %v, want ErrNotReady", err)
	}

	if err := f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{}); err != nil {
		t.Fatalf("StartCommit() error = %v", err)
	}
	if _, done, err := f.svc.CommitOutcome(staged.ID); done || err != nil {
		t.Errorf("CommitOutcome() while running = done %v, err %v", done, err)
	}

	waitResult(t, f.svc, staged.ID)
	result, done, err := f.svc.CommitOutcome(staged.ID)
	if !done || err != nil || result.ProductsCreated != 2 {
		t.Errorf("CommitOutcome() = %+v, %v, %v", result, done, err)
	}
}

func TestServiceLateSubscriberSeesTerminalState(t *testing.T) {
	f := newServiceFixture(t, ServiceOptions{})

	for i := 0; i < 50; i++ {
		staged, err := f.svc.Stage(context.Background(), stage849(t))
		if err != nil {
			t.Fatalf("Stage() error = %v", err)
		}
		if err := f.svc.StartCommit(context.Background(), staged.ID, CommitRequest{}); err != nil {
			t.Fatalf("StartCommit() error = %v", err)
		}

		// Subscribe while the commit may be finishing
		updates, err := f.svc.SubscribeProgress(staged.ID)
		if err != nil {
			t.Fatalf("SubscribeProgress() error = %v", err)
		}
		var last ImportProgress
		for p := range updates {
			last = p
		}
		if last.Phase != PhaseComplete || last.Percent != 100 {
			t.Fatalf("iteration %d: last progress = %+v, want complete at 100", i, last)
		}
	}
}
