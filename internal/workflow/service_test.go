package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/ledger"
	"servicehours/internal/live"
	"servicehours/internal/preferences"
	"servicehours/internal/students"
)

var errDiskFull = errors.New("disk full")

// memStore keeps all three collections in maps and restores a snapshot when
// the transaction function fails.
type memStore struct {
	entries  map[string]ledger.Entry
	students map[string]students.Record
	prefs    map[string]preferences.Request
	seq      int
	failOn   string
}

func newMemStore() *memStore {
	return &memStore{
		entries:  make(map[string]ledger.Entry),
		students: make(map[string]students.Record),
		prefs:    make(map[string]preferences.Request),
	}
}

func (m *memStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	entries, recs, prefs := maps.Clone(m.entries), maps.Clone(m.students), maps.Clone(m.prefs)
	err := fn(ctx, Tx{Entries: memEntries{m}, Students: memStudents{m}, Preferences: memPrefs{m}})
	if err != nil {
		m.entries, m.students, m.prefs = entries, recs, prefs
	}
	return err
}

func (m *memStore) fail(op string) error {
	if m.failOn == op {
		return errDiskFull
	}
	return nil
}

type memEntries struct{ m *memStore }

func (s memEntries) Insert(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	if err := s.m.fail("Insert"); err != nil {
		return ledger.Entry{}, err
	}
	s.m.seq++
	e.ID = fmt.Sprintf("e%d", s.m.seq)
	s.m.entries[e.ID] = e
	return e, nil
}

func (s memEntries) GetForUpdate(_ context.Context, id string) (ledger.Entry, error) {
	e, ok := s.m.entries[id]
	if !ok {
		return ledger.Entry{}, apperr.NotFound("entry %s not found", id)
	}
	return e, nil
}

func (s memEntries) UpdateStatus(_ context.Context, id string, status ledger.Status, verifierID string, at time.Time) error {
	if err := s.m.fail("UpdateStatus"); err != nil {
		return err
	}
	e := s.m.entries[id]
	e.Status, e.VerifierID, e.UpdatedAt = status, verifierID, at
	s.m.entries[id] = e
	return nil
}

func (s memEntries) Delete(_ context.Context, id string) error {
	if err := s.m.fail("Delete"); err != nil {
		return err
	}
	delete(s.m.entries, id)
	return nil
}

type memStudents struct{ m *memStore }

func (s memStudents) GetForUpdate(_ context.Context, uid string) (students.Record, error) {
	r, ok := s.m.students[uid]
	if !ok {
		return students.Record{}, apperr.NotFound("student %s not found", uid)
	}
	return r, nil
}

func (s memStudents) AddHours(_ context.Context, uid string, delta float64) (float64, error) {
	if err := s.m.fail("AddHours"); err != nil {
		return 0, err
	}
	r := s.m.students[uid]
	r.TotalHours = math.Max(0, r.TotalHours+delta)
	s.m.students[uid] = r
	return r.TotalHours, nil
}

func (s memStudents) ApplyPreferences(_ context.Context, uid, class, location string, completeSetup bool, at time.Time) error {
	if err := s.m.fail("ApplyPreferences"); err != nil {
		return err
	}
	r := s.m.students[uid]
	r.Class, r.Location, r.UpdatedAt = class, location, at
	if completeSetup {
		r.HasCompletedSetup = true
	}
	s.m.students[uid] = r
	return nil
}

type memPrefs struct{ m *memStore }

func (s memPrefs) GetForUpdate(_ context.Context, id string) (preferences.Request, error) {
	r, ok := s.m.prefs[id]
	if !ok {
		return preferences.Request{}, apperr.NotFound("request %s not found", id)
	}
	return r, nil
}

func (s memPrefs) Delete(_ context.Context, id string) error {
	if err := s.m.fail("DeletePreference"); err != nil {
		return err
	}
	delete(s.m.prefs, id)
	return nil
}

type recordingPublisher struct{ events []live.Event }

func (p *recordingPublisher) Publish(_ context.Context, evt live.Event) error {
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) kinds() []live.Kind {
	var out []live.Kind
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

type recordingScheduler struct{ students []string }

func (s *recordingScheduler) Schedule(_ context.Context, studentID, _ string) error {
	s.students = append(s.students, studentID)
	return nil
}

var fixedNow = time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *memStore
	pub   *recordingPublisher
	jobs  *recordingScheduler
}

func newFixture(total float64) fixture {
	st := newMemStore()
	st.students["u1"] = students.Record{
		UID: "u1", Name: "Asha", Email: "021bim01@sxc.edu.np", RollNumber: "021bim01",
		Class: "AS", Location: "godavari", TotalHours: total, RequiredHours: 50, HasCompletedSetup: true,
	}
	pub := &recordingPublisher{}
	jobs := &recordingScheduler{}
	svc := NewService(st, pub, jobs, nil, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return fixture{svc: svc, store: st, pub: pub, jobs: jobs}
}

func (f fixture) addEntry(id string, hours float64, status ledger.Status) {
	f.store.entries[id] = ledger.Entry{
		ID: id, StudentID: "u1", Title: "Clinic", Description: "Helped at clinic",
		Hours: hours, Date: fixedNow.Truncate(24 * time.Hour), Status: status,
	}
}

func (f fixture) total() float64 { return f.store.students["u1"].TotalHours }

func TestApproveCreditsExactlyOnce(t *testing.T) {
	f := newFixture(20)
	f.addEntry("e1", 10, ledger.StatusPending)
	ctx := context.Background()

	res, err := f.svc.Approve(ctx, "e1", "admin-1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !res.Changed || res.Entry.Status != ledger.StatusApproved || res.Entry.VerifierID != "admin-1" {
		t.Fatalf("result = %+v", res)
	}
	if f.total() != 30 || res.Student.TotalHours != 30 {
		t.Fatalf("total = %v (result %v), want 30", f.total(), res.Student.TotalHours)
	}
	if got := f.store.entries["e1"]; !got.UpdatedAt.Equal(fixedNow) {
		t.Errorf("updated_at = %v", got.UpdatedAt)
	}

	res, err = f.svc.Approve(ctx, "e1", "admin-2")
	if err != nil {
		t.Fatalf("second Approve: %v", err)
	}
	if res.Changed || f.total() != 30 {
		t.Fatalf("second approve changed state: changed=%v total=%v", res.Changed, f.total())
	}
	if f.store.entries["e1"].VerifierID != "admin-1" {
		t.Error("second approve overwrote the verifier")
	}
}

func TestTerminalStatusTransitions(t *testing.T) {
	f := newFixture(0)
	f.addEntry("approved", 4, ledger.StatusApproved)
	f.addEntry("rejected", 4, ledger.StatusRejected)
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, "rejected", "admin"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("approve rejected: err = %v", err)
	}
	if _, err := f.svc.Reject(ctx, "approved", "admin"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("reject approved: err = %v", err)
	}
	res, err := f.svc.Reject(ctx, "rejected", "admin")
	if err != nil || res.Changed {
		t.Errorf("reject rejected: changed=%v err=%v", res.Changed, err)
	}
	if f.total() != 0 {
		t.Errorf("total = %v, want 0", f.total())
	}
}

func TestRejectLeavesHoursAlone(t *testing.T) {
	f := newFixture(12)
	f.addEntry("e1", 8, ledger.StatusPending)

	res, err := f.svc.Reject(context.Background(), "e1", "admin")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if res.Entry.Status != ledger.StatusRejected || f.store.entries["e1"].Status != ledger.StatusRejected {
		t.Fatalf("status = %s", res.Entry.Status)
	}
	if f.total() != 12 {
		t.Errorf("total = %v, want 12", f.total())
	}
	if len(f.jobs.students) != 0 {
		t.Errorf("reject queued reconcile jobs: %v", f.jobs.students)
	}
}

func TestMissingRecords(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, "nope", "admin"); !errors.Is(err, apperr.ErrRecordNotFound) {
		t.Errorf("approve: %v", err)
	}
	if _, err := f.svc.DeleteEntry(ctx, "nope"); !errors.Is(err, apperr.ErrRecordNotFound) {
		t.Errorf("delete: %v", err)
	}
	if _, err := f.svc.AddPunishment(ctx, "ghost", 2, "late", "admin"); !errors.Is(err, apperr.ErrRecordNotFound) {
		t.Errorf("punish: %v", err)
	}
	if _, err := f.svc.ApprovePreference(ctx, "nope"); !errors.Is(err, apperr.ErrRecordNotFound) {
		t.Errorf("approve preference: %v", err)
	}
	if len(f.store.entries) != 0 {
		t.Errorf("punishment for a missing student left an entry: %v", f.store.entries)
	}
}

func TestApproveThenDeleteRestoresTotal(t *testing.T) {
	f := newFixture(20)
	f.addEntry("e1", 10, ledger.StatusPending)
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, "e1", "admin"); err != nil {
		t.Fatal(err)
	}
	if f.total() != 30 {
		t.Fatalf("after approve total = %v, want 30", f.total())
	}
	if _, err := f.svc.DeleteEntry(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if f.total() != 20 {
		t.Fatalf("after delete total = %v, want 20", f.total())
	}
	if _, ok := f.store.entries["e1"]; ok {
		t.Error("entry still present")
	}
}

func TestDeletePendingKeepsTotal(t *testing.T) {
	f := newFixture(20)
	f.addEntry("e1", 10, ledger.StatusPending)

	if _, err := f.svc.DeleteEntry(context.Background(), "e1"); err != nil {
		t.Fatal(err)
	}
	if f.total() != 20 {
		t.Errorf("total = %v, want 20", f.total())
	}
}

func TestDeleteFloorsTotalAtZero(t *testing.T) {
	f := newFixture(5)
	f.addEntry("e1", 10, ledger.StatusApproved)

	res, err := f.svc.DeleteEntry(context.Background(), "e1")
	if err != nil {
		t.Fatal(err)
	}
	if f.total() != 0 || res.Student.TotalHours != 0 {
		t.Errorf("total = %v, want 0", f.total())
	}
}

func TestAddPunishment(t *testing.T) {
	f := newFixture(30)

	res, err := f.svc.AddPunishment(context.Background(), "u1", 5, "  Late to shift ", "admin-1")
	if err != nil {
		t.Fatalf("AddPunishment: %v", err)
	}
	if f.total() != 35 {
		t.Fatalf("total = %v, want 35", f.total())
	}
	e := f.store.entries[res.Entry.ID]
	if e.Title != ledger.PunishmentTitle || e.Description != "Late to shift" {
		t.Errorf("entry text = %q / %q", e.Title, e.Description)
	}
	if e.Status != ledger.StatusApproved || !e.IsPunishment || e.VerifierID != "admin-1" {
		t.Errorf("entry = %+v", e)
	}
	if want := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC); !e.Date.Equal(want) {
		t.Errorf("date = %v, want %v", e.Date, want)
	}
}

func TestAddPunishmentValidation(t *testing.T) {
	f := newFixture(0)
	cases := map[string]struct {
		hours  float64
		reason string
	}{
		"zero hours":     {0, "late"},
		"negative hours": {-2, "late"},
		"nan hours":      {math.NaN(), "late"},
		"blank reason":   {2, "   "},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.AddPunishment(context.Background(), "u1", tc.hours, tc.reason, "admin")
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
	if len(f.store.entries) != 0 || f.total() != 0 {
		t.Error("invalid punishment changed state")
	}
}

func TestFailedWriteRollsBack(t *testing.T) {
	cases := []struct {
		failOn string
		run    func(f fixture) error
	}{
		{"AddHours", func(f fixture) error { _, err := f.svc.Approve(context.Background(), "e1", "admin"); return err }},
		{"AddHours", func(f fixture) error {
			_, err := f.svc.AddPunishment(context.Background(), "u1", 3, "late", "admin")
			return err
		}},
		{"Delete", func(f fixture) error { _, err := f.svc.DeleteEntry(context.Background(), "e2"); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.failOn, func(t *testing.T) {
			f := newFixture(20)
			f.addEntry("e1", 10, ledger.StatusPending)
			f.addEntry("e2", 5, ledger.StatusApproved)
			f.store.failOn = tc.failOn

			err := tc.run(f)
			if !errors.Is(err, apperr.ErrWriteFailure) || !errors.Is(err, errDiskFull) {
				t.Fatalf("err = %v, want write failure wrapping the cause", err)
			}
			if f.total() != 20 {
				t.Errorf("total = %v, want 20", f.total())
			}
			if len(f.store.entries) != 2 || f.store.entries["e1"].Status != ledger.StatusPending {
				t.Errorf("entries changed: %+v", f.store.entries)
			}
			if len(f.pub.events) != 0 || len(f.jobs.students) != 0 {
				t.Errorf("side effects after rollback: events=%v jobs=%v", f.pub.kinds(), f.jobs.students)
			}
		})
	}
}

func TestSideEffectsAfterCommit(t *testing.T) {
	f := newFixture(0)
	f.addEntry("e1", 3, ledger.StatusPending)

	if _, err := f.svc.Approve(context.Background(), "e1", "admin"); err != nil {
		t.Fatal(err)
	}
	kinds := f.pub.kinds()
	if len(kinds) != 2 || kinds[0] != live.EntryUpdated || kinds[1] != live.StudentUpdated {
		t.Errorf("events = %v", kinds)
	}
	if len(f.jobs.students) != 1 || f.jobs.students[0] != "u1" {
		t.Errorf("jobs = %v", f.jobs.students)
	}
}

type ctxScheduler struct {
	err         error
	hasDeadline bool
	deadline    time.Time
}

func (s *ctxScheduler) Schedule(ctx context.Context, _, _ string) error {
	s.err = ctx.Err()
	s.deadline, s.hasDeadline = ctx.Deadline()
	return s.err
}

func TestScheduleOutlivesCancelledRequest(t *testing.T) {
	f := newFixture(0)
	f.addEntry("e1", 3, ledger.StatusPending)
	jobs := &ctxScheduler{}
	f.svc.jobs = jobs

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if _, err := f.svc.Approve(ctx, "e1", "admin"); err != nil {
		t.Fatal(err)
	}
	if jobs.err != nil {
		t.Errorf("schedule saw cancelled context: %v", jobs.err)
	}
	if !jobs.hasDeadline || jobs.deadline.After(start.Add(scheduleTimeout+time.Second)) {
		t.Errorf("schedule deadline = %v (set %v)", jobs.deadline, jobs.hasDeadline)
	}
	if f.total() != 3 {
		t.Errorf("total = %v, want 3", f.total())
	}
}

func TestPreferenceDecisions(t *testing.T) {
	f := newFixture(0)
	f.store.prefs["p1"] = preferences.Request{ID: "p1", StudentID: "u1",
		ProposedClass: "A2", ProposedLocation: "pulchowk", CurrentClass: "AS", CurrentLocation: "godavari"}
	ctx := context.Background()
	before := f.store.students["u1"]

	if _, err := f.svc.RejectPreference(ctx, "p1"); err != nil {
		t.Fatalf("RejectPreference: %v", err)
	}
	if after := f.store.students["u1"]; after != before {
		t.Errorf("reject changed the record: %+v", after)
	}
	if len(f.store.prefs) != 0 {
		t.Error("rejected request not removed")
	}

	f.store.prefs["p2"] = preferences.Request{ID: "p2", StudentID: "u1", ProposedClass: "A2", ProposedLocation: "pulchowk"}
	res, err := f.svc.ApprovePreference(ctx, "p2")
	if err != nil {
		t.Fatalf("ApprovePreference: %v", err)
	}
	got := f.store.students["u1"]
	if got.Class != "A2" || got.Location != "pulchowk" || res.Student.Class != "A2" {
		t.Errorf("record = %+v", got)
	}
	if got.TotalHours != before.TotalHours || !got.HasCompletedSetup {
		t.Errorf("approve touched unrelated fields: %+v", got)
	}
	if len(f.store.prefs) != 0 {
		t.Error("approved request not removed")
	}
}

// Random interleavings of every action keep the total equal to the sum of
// approved hours and never negative.
func TestRandomSequencesKeepTotalConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(20240510))
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		f := newFixture(0)
		for i := 0; i < 8; i++ {
			f.addEntry(fmt.Sprintf("s%d", i), float64(1+rng.Intn(12))/2, ledger.StatusPending)
		}

		for step := 0; step < 40; step++ {
			id := fmt.Sprintf("s%d", rng.Intn(10))
			var err error
			switch rng.Intn(4) {
			case 0:
				_, err = f.svc.Approve(ctx, id, "admin")
			case 1:
				_, err = f.svc.Reject(ctx, id, "admin")
			case 2:
				_, err = f.svc.DeleteEntry(ctx, id)
			case 3:
				_, err = f.svc.AddPunishment(ctx, "u1", float64(1+rng.Intn(4)), "late", "admin")
			}
			if err != nil && !errors.Is(err, apperr.ErrInvalidTransition) && !errors.Is(err, apperr.ErrRecordNotFound) {
				t.Fatalf("round %d step %d: unexpected error %v", round, step, err)
			}

			var approved float64
			for _, e := range f.store.entries {
				if e.Status == ledger.StatusApproved {
					approved += e.Hours
				}
			}
			if total := f.total(); total < 0 || math.Abs(total-approved) > 1e-9 {
				t.Fatalf("round %d step %d: total %v, approved sum %v", round, step, total, approved)
			}
		}
	}
}
