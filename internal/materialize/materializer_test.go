package materialize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/stablehq/farrier/internal/db"
)

type progressUpdate struct {
	lastDate string
	rotation int
}

// fakeStore implements Store in memory. InsertInstances mirrors the
// insert-if-absent semantics of the real store: dates already present are
// not counted as created.
type fakeStore struct {
	mu          sync.Mutex
	definitions []db.RecurringDefinition
	exceptions  map[string][]db.ActivityException
	existing    map[string]map[string]bool
	members     map[string][]db.Member

	listDefsErr error
	insertFail  map[string]bool

	inserted      []db.ActivityInstance
	batchSizes    []int
	progress      map[string]progressUpdate
	progressCalls int
	memberCalls   int
}

func newFakeStore(defs ...db.RecurringDefinition) *fakeStore {
	return &fakeStore{
		definitions: defs,
		exceptions:  make(map[string][]db.ActivityException),
		existing:    make(map[string]map[string]bool),
		members:     make(map[string][]db.Member),
		insertFail:  make(map[string]bool),
		progress:    make(map[string]progressUpdate),
	}
}

func (f *fakeStore) ListActiveDefinitions(ctx context.Context) ([]db.RecurringDefinition, error) {
	if f.listDefsErr != nil {
		return nil, f.listDefsErr
	}
	return f.definitions, nil
}

func (f *fakeStore) ListExceptions(ctx context.Context, definitionID, from, to string) ([]db.ActivityException, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.ActivityException
	for _, exc := range f.exceptions[definitionID] {
		if exc.Date >= from && exc.Date <= to {
			out = append(out, exc)
		}
	}
	return out, nil
}

func (f *fakeStore) ListInstanceDates(ctx context.Context, definitionID, from, to string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for date := range f.existing[definitionID] {
		if date >= from && date <= to {
			out[date] = true
		}
	}
	return out, nil
}

func (f *fakeStore) InsertInstances(ctx context.Context, instances []db.ActivityInstance) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(instances) > 0 && f.insertFail[instances[0].DefinitionID] {
		return 0, errors.New("bulk write failed")
	}
	f.batchSizes = append(f.batchSizes, len(instances))
	created := 0
	for _, inst := range instances {
		if f.existing[inst.DefinitionID] == nil {
			f.existing[inst.DefinitionID] = make(map[string]bool)
		}
		if f.existing[inst.DefinitionID][inst.Date] {
			continue
		}
		f.existing[inst.DefinitionID][inst.Date] = true
		f.inserted = append(f.inserted, inst)
		created++
	}
	return created, nil
}

func (f *fakeStore) UpdateDefinitionProgress(ctx context.Context, definitionID, lastGeneratedDate string, rotationIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressCalls++
	f.progress[definitionID] = progressUpdate{lastDate: lastGeneratedDate, rotation: rotationIndex}
	return nil
}

func (f *fakeStore) ListMembers(ctx context.Context, tenantID string) ([]db.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberCalls++
	return f.members[tenantID], nil
}

func (f *fakeStore) insertedDates(definitionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, inst := range f.inserted {
		if inst.DefinitionID == definitionID {
			out = append(out, inst.Date)
		}
	}
	return out
}

func newTestMaterializer(store Store, cfg Config) *Materializer {
	m := New(store, cfg, zap.NewNop())
	m.now = func() time.Time {
		return time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)
	}
	return m
}

func testDefinition() db.RecurringDefinition {
	return db.RecurringDefinition{
		ID:                "def1",
		TenantID:          "tenant1",
		Title:             "Morning feeding",
		ActivityType:      "feeding",
		Rule:              "FREQ=DAILY",
		PatternStart:      time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		GenerateDaysAhead: 5,
		TimeOfDay:         "07:30",
		DurationMinutes:   45,
		AssignmentMode:    db.AssignFixed,
		AssignedTo:        "U1",
		Weight:            1,
		Status:            db.DefinitionActive,
	}
}

func TestMaterializerRun_EndToEnd(t *testing.T) {
	def := testDefinition()
	def.Rule = "FREQ=DAILY;INTERVAL=2"
	def.GenerateDaysAhead = 10
	def.HolidayWeightEnabled = true
	def.HolidayWeightFactor = 2.0

	store := newFakeStore(def)
	store.members["tenant1"] = []db.Member{{ID: "U1", TenantID: "tenant1", Name: "Anna"}}

	m := newTestMaterializer(store, Config{})
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Definitions != 1 || summary.Created != 5 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 1 definition, 5 created, 0 failed", summary)
	}

	wantDates := []string{"2024-01-01", "2024-01-03", "2024-01-05", "2024-01-07", "2024-01-09"}
	if diff := cmp.Diff(wantDates, store.insertedDates("def1")); diff != "" {
		t.Fatalf("instance dates mismatch (-want +got):\n%s", diff)
	}

	for _, inst := range store.inserted {
		if inst.ID != db.InstanceID("def1", inst.Date) {
			t.Errorf("instance ID = %q, want %q", inst.ID, db.InstanceID("def1", inst.Date))
		}
		if inst.AssignedTo != "U1" {
			t.Errorf("instance %s assignedTo = %q, want U1", inst.Date, inst.AssignedTo)
		}
		if inst.AssigneeName != "Anna" {
			t.Errorf("instance %s assigneeName = %q, want Anna", inst.Date, inst.AssigneeName)
		}
		if inst.Title != "Morning feeding" || inst.TimeOfDay != "07:30" || inst.Status != db.InstanceScheduled {
			t.Errorf("instance %s carries wrong template fields: %+v", inst.Date, inst)
		}

		// 2024-01-07 is a Sunday, the only weekend date in the series.
		wantWeight := 1.0
		wantHoliday := false
		if inst.Date == "2024-01-07" {
			wantWeight = 2.0
			wantHoliday = true
		}
		if inst.Weight != wantWeight {
			t.Errorf("instance %s weight = %v, want %v", inst.Date, inst.Weight, wantWeight)
		}
		if inst.HolidayShift != wantHoliday {
			t.Errorf("instance %s holidayShift = %v, want %v", inst.Date, inst.HolidayShift, wantHoliday)
		}
	}

	got, ok := store.progress["def1"]
	if !ok {
		t.Fatal("expected generation progress to be recorded")
	}
	if got.lastDate != "2024-01-09" {
		t.Errorf("lastGeneratedDate = %q, want 2024-01-09", got.lastDate)
	}
}

func TestMaterializerRun_RerunCreatesNothing(t *testing.T) {
	def := testDefinition()
	store := newFakeStore(def)
	m := newTestMaterializer(store, Config{})

	first, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.Created != 5 {
		t.Fatalf("first run created = %d, want 5", first.Created)
	}

	second, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.Created != 0 {
		t.Errorf("second run created = %d, want 0", second.Created)
	}
	if second.SkippedExisting != 5 {
		t.Errorf("second run skippedExisting = %d, want 5", second.SkippedExisting)
	}
	if store.progressCalls != 1 {
		t.Errorf("progress updates = %d, want 1", store.progressCalls)
	}
}

func TestMaterializerRun_Exceptions(t *testing.T) {
	def := testDefinition()
	def.Weight = 0 // falls back to 1
	store := newFakeStore(def)
	store.members["tenant1"] = []db.Member{
		{ID: "U1", TenantID: "tenant1", Name: "Anna"},
		{ID: "U2", TenantID: "tenant1", Name: "Bea"},
	}

	vetTitle := "Vet visit"
	vetTime := "14:00"
	vetUser := "U2"
	store.exceptions["def1"] = []db.ActivityException{
		{ID: "exc1", DefinitionID: "def1", Date: "2024-01-02", Type: db.ExceptionSkip},
		{ID: "exc2", DefinitionID: "def1", Date: "2024-01-04", Type: db.ExceptionModify,
			Title: &vetTitle, TimeOfDay: &vetTime, AssignedTo: &vetUser},
	}

	m := newTestMaterializer(store, Config{})
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Created != 4 {
		t.Errorf("created = %d, want 4", summary.Created)
	}
	if summary.SkippedExceptions != 1 {
		t.Errorf("skippedExceptions = %d, want 1", summary.SkippedExceptions)
	}

	wantDates := []string{"2024-01-01", "2024-01-03", "2024-01-04", "2024-01-05"}
	if diff := cmp.Diff(wantDates, store.insertedDates("def1")); diff != "" {
		t.Fatalf("instance dates mismatch (-want +got):\n%s", diff)
	}

	for _, inst := range store.inserted {
		if inst.Weight != 1 {
			t.Errorf("instance %s weight = %v, want 1", inst.Date, inst.Weight)
		}
		if inst.Date == "2024-01-04" {
			if inst.Title != vetTitle || inst.TimeOfDay != vetTime {
				t.Errorf("modified instance = %+v, want title %q at %q", inst, vetTitle, vetTime)
			}
			if inst.AssignedTo != "U2" || inst.AssigneeName != "Bea" {
				t.Errorf("modified instance assignee = %q (%q), want U2 (Bea)", inst.AssignedTo, inst.AssigneeName)
			}
			if !inst.FromException {
				t.Error("modified instance should be flagged fromException")
			}
		} else if inst.FromException {
			t.Errorf("instance %s unexpectedly flagged fromException", inst.Date)
		}
	}
}

func TestMaterializerRun_RotationContinuesFromPersistedIndex(t *testing.T) {
	def := testDefinition()
	def.GenerateDaysAhead = 10
	def.AssignmentMode = db.AssignRotation
	def.AssignedTo = ""
	def.RotationGroup = []string{"anna", "bea", "carl"}
	def.CurrentRotationIndex = 1

	store := newFakeStore(def)
	m := newTestMaterializer(store, Config{})

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"bea", "carl", "anna", "bea", "carl", "anna", "bea", "carl", "anna", "bea"}
	var got []string
	counts := make(map[string]int)
	for _, inst := range store.inserted {
		got = append(got, inst.AssignedTo)
		counts[inst.AssignedTo]++
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rotation order mismatch (-want +got):\n%s", diff)
	}

	// 10 occurrences over 3 members: everyone gets 3 or 4.
	for _, user := range def.RotationGroup {
		if counts[user] < 3 || counts[user] > 4 {
			t.Errorf("member %s assigned %d times, want 3 or 4", user, counts[user])
		}
	}

	progress := store.progress["def1"]
	if progress.rotation != 2 {
		t.Errorf("persisted rotation index = %d, want 2", progress.rotation)
	}
	if store.progressCalls != 1 {
		t.Errorf("progress updates = %d, want 1", store.progressCalls)
	}
}

func TestMaterializerRun_SkipDoesNotConsumeRotationSlot(t *testing.T) {
	def := testDefinition()
	def.GenerateDaysAhead = 4
	def.AssignmentMode = db.AssignRotation
	def.AssignedTo = ""
	def.RotationGroup = []string{"anna", "bea"}

	store := newFakeStore(def)
	substitute := "zoe"
	store.exceptions["def1"] = []db.ActivityException{
		{ID: "exc1", DefinitionID: "def1", Date: "2024-01-02", Type: db.ExceptionSkip},
		{ID: "exc2", DefinitionID: "def1", Date: "2024-01-03", Type: db.ExceptionModify, AssignedTo: &substitute},
	}

	m := newTestMaterializer(store, Config{})
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Jan 1 takes anna. Jan 2 is skipped without consuming a slot. Jan 3
	// consumes bea's slot but is overridden to zoe. Jan 4 wraps back to anna.
	byDate := make(map[string]string)
	for _, inst := range store.inserted {
		byDate[inst.Date] = inst.AssignedTo
	}
	want := map[string]string{
		"2024-01-01": "anna",
		"2024-01-03": "zoe",
		"2024-01-04": "anna",
	}
	if diff := cmp.Diff(want, byDate); diff != "" {
		t.Errorf("assignments mismatch (-want +got):\n%s", diff)
	}

	if got := store.progress["def1"].rotation; got != 1 {
		t.Errorf("persisted rotation index = %d, want 1", got)
	}
}

func TestMaterializerRun_FairDistributionLeavesUnassigned(t *testing.T) {
	def := testDefinition()
	def.AssignmentMode = db.AssignFairDistribution
	def.AssignedTo = ""

	store := newFakeStore(def)
	m := newTestMaterializer(store, Config{})

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, inst := range store.inserted {
		if inst.AssignedTo != "" || inst.AssigneeName != "" {
			t.Errorf("instance %s assigned to %q, want unassigned", inst.Date, inst.AssignedTo)
		}
	}
}

func TestMaterializerRun_FlushesInBatches(t *testing.T) {
	def := testDefinition()
	def.GenerateDaysAhead = 10

	store := newFakeStore(def)
	m := newTestMaterializer(store, Config{MaxBatchSize: 4})

	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Created != 10 {
		t.Errorf("created = %d, want 10", summary.Created)
	}
	if diff := cmp.Diff([]int{4, 4, 2}, store.batchSizes); diff != "" {
		t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestMaterializerRun_DefinitionFailureIsIsolated(t *testing.T) {
	good := testDefinition()
	bad := testDefinition()
	bad.ID = "def2"
	bad.Title = "Paddock turnout"

	store := newFakeStore(good, bad)
	store.insertFail["def2"] = true

	m := newTestMaterializer(store, Config{})
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	if summary.Failed != 1 {
		t.Errorf("failed = %d, want 1", summary.Failed)
	}
	if summary.Created != 5 {
		t.Errorf("created = %d, want 5", summary.Created)
	}
	if _, ok := store.progress["def2"]; ok {
		t.Error("failed definition must not record generation progress")
	}
	if _, ok := store.progress["def1"]; !ok {
		t.Error("healthy definition should record generation progress")
	}
}

func TestMaterializerRun_ListFailurePropagates(t *testing.T) {
	store := newFakeStore()
	store.listDefsErr = errors.New("mongo unreachable")

	m := newTestMaterializer(store, Config{})
	if _, err := m.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want listing failure")
	}
}

func TestMaterializerRun_TruncatedExpansionKeepsPartialResult(t *testing.T) {
	def := testDefinition()
	def.GenerateDaysAhead = 3000

	store := newFakeStore(def)
	m := newTestMaterializer(store, Config{})

	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Failed != 0 {
		t.Errorf("failed = %d, want 0", summary.Failed)
	}
	if summary.Created != 1000 {
		t.Errorf("created = %d, want 1000", summary.Created)
	}
}

func TestMaterializerRun_RosterFetchedOncePerTenant(t *testing.T) {
	first := testDefinition()
	second := testDefinition()
	second.ID = "def2"

	store := newFakeStore(first, second)
	store.members["tenant1"] = []db.Member{{ID: "U1", TenantID: "tenant1", Name: "Anna"}}

	m := newTestMaterializer(store, Config{Workers: 2})
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if store.memberCalls != 1 {
		t.Errorf("ListMembers calls = %d, want 1", store.memberCalls)
	}
}

func TestMaterializerRun_HolidayCalendar(t *testing.T) {
	def := testDefinition()
	def.PatternStart = time.Date(2024, time.April, 29, 0, 0, 0, 0, time.UTC)
	def.GenerateDaysAhead = 7
	def.Weight = 2
	def.HolidayWeightEnabled = true

	store := newFakeStore(def)
	m := newTestMaterializer(store, Config{Holidays: []string{"05-01"}})
	m.now = func() time.Time {
		return time.Date(2024, time.April, 29, 6, 0, 0, 0, time.UTC)
	}

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// May 1 is the configured holiday; May 4 and 5 fall on a weekend. The
	// default factor 1.5 applies because the definition sets none.
	wantWeights := map[string]float64{
		"2024-04-29": 2,
		"2024-04-30": 2,
		"2024-05-01": 3,
		"2024-05-02": 2,
		"2024-05-03": 2,
		"2024-05-04": 3,
		"2024-05-05": 3,
	}
	for _, inst := range store.inserted {
		if inst.Weight != wantWeights[inst.Date] {
			t.Errorf("instance %s weight = %v, want %v", inst.Date, inst.Weight, wantWeights[inst.Date])
		}
		wantHoliday := wantWeights[inst.Date] == 3
		if inst.HolidayShift != wantHoliday {
			t.Errorf("instance %s holidayShift = %v, want %v", inst.Date, inst.HolidayShift, wantHoliday)
		}
	}
}

func TestMaterializerRun_HolidayFlagWithoutWeighting(t *testing.T) {
	def := testDefinition()
	def.PatternStart = time.Date(2024, time.January, 6, 0, 0, 0, 0, time.UTC) // Saturday
	def.GenerateDaysAhead = 1
	def.Weight = 2

	store := newFakeStore(def)
	m := newTestMaterializer(store, Config{})
	m.now = func() time.Time {
		return time.Date(2024, time.January, 6, 6, 0, 0, 0, time.UTC)
	}

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("inserted = %d instances, want 1", len(store.inserted))
	}
	inst := store.inserted[0]
	if !inst.HolidayShift {
		t.Error("Saturday instance should be flagged as holiday shift")
	}
	if inst.Weight != 2 {
		t.Errorf("weight = %v, want 2 (weighting disabled)", inst.Weight)
	}
}
