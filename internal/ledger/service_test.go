package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/live"
)

type fakeStore struct {
	entries   map[string]Entry
	seq       int
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]Entry)}
}

func (f *fakeStore) Insert(_ context.Context, e Entry) (Entry, error) {
	if f.insertErr != nil {
		return Entry{}, f.insertErr
	}
	if e.ID == "" {
		f.seq++
		e.ID = fmt.Sprintf("e%03d", f.seq)
	}
	f.entries[e.ID] = e
	return e, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (Entry, error) {
	e, ok := f.entries[id]
	if !ok {
		return Entry{}, apperr.NotFound("entry %s not found", id)
	}
	return e, nil
}

func (f *fakeStore) List(_ context.Context, studentID string, status Status, after *Cursor, limit int) ([]Entry, error) {
	var out []Entry
	for _, e := range f.entries {
		if e.StudentID != studentID || (status != "" && e.Status != status) {
			continue
		}
		if after != nil && !(e.Date.Before(after.Date) || (e.Date.Equal(after.Date) && e.ID < after.ID)) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) Summary(_ context.Context, studentID string) (Summary, error) {
	var s Summary
	for _, e := range f.entries {
		if e.StudentID != studentID {
			continue
		}
		switch e.Status {
		case StatusApproved:
			s.Approved += e.Hours
		case StatusPending:
			s.Pending += e.Hours
		case StatusRejected:
			s.Rejected += e.Hours
		}
	}
	return s, nil
}

type recordingPublisher struct{ events []live.Event }

func (p *recordingPublisher) Publish(_ context.Context, evt live.Event) error {
	p.events = append(p.events, evt)
	return nil
}

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSubmitIsPending(t *testing.T) {
	st := newFakeStore()
	pub := &recordingPublisher{}
	svc := NewService(st, 10, pub, zap.NewNop())

	entry, err := svc.Submit(context.Background(), "s1", SubmitInput{
		Title:       "  Tree planting ",
		Description: "Planted saplings at Godavari",
		Hours:       10,
		Date:        time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if entry.Status != StatusPending || entry.IsPunishment {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Title != "Tree planting" {
		t.Errorf("title not trimmed: %q", entry.Title)
	}
	if !entry.Date.Equal(day("2026-03-04")) {
		t.Errorf("date = %v", entry.Date)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != live.EntryCreated || pub.events[0].StudentID != "s1" {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := NewService(newFakeStore(), 10, nil, zap.NewNop())
	valid := SubmitInput{Title: "t", Description: "d", Hours: 1, Date: day("2026-01-01")}

	cases := map[string]func(*SubmitInput){
		"empty title":       func(in *SubmitInput) { in.Title = "   " },
		"empty description": func(in *SubmitInput) { in.Description = "" },
		"negative hours":    func(in *SubmitInput) { in.Hours = -1 },
		"nan hours":         func(in *SubmitInput) { in.Hours = math.NaN() },
		"missing date":      func(in *SubmitInput) { in.Date = time.Time{} },
		"bad attachment":    func(in *SubmitInput) { in.Attachments = []string{"not a url"} },
		"too many attachments": func(in *SubmitInput) {
			in.Attachments = strings.Split(strings.Repeat("https://x.io/a,", MaxAttachments+1), ",")[:MaxAttachments+1]
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			if _, err := svc.Submit(context.Background(), "s1", in); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}

	zero := valid
	zero.Hours = 0
	if _, err := svc.Submit(context.Background(), "s1", zero); err != nil {
		t.Errorf("zero hours should be accepted: %v", err)
	}
}

func TestSubmitWriteFailure(t *testing.T) {
	st := newFakeStore()
	st.insertErr = errors.New("network down")
	svc := NewService(st, 10, nil, zap.NewNop())

	_, err := svc.Submit(context.Background(), "s1", SubmitInput{Title: "t", Description: "d", Hours: 1, Date: day("2026-01-01")})
	if !errors.Is(err, apperr.ErrWriteFailure) {
		t.Fatalf("err = %v, want write failure", err)
	}
	if len(st.entries) != 0 {
		t.Error("nothing should be stored")
	}
}

func TestListPaginates(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, 3, nil, zap.NewNop())
	ctx := context.Background()

	dates := []string{"2026-01-05", "2026-01-03", "2026-01-05", "2026-01-01", "2026-01-04", "2026-01-02", "2026-01-03"}
	for _, d := range dates {
		if _, err := svc.Submit(ctx, "s1", SubmitInput{Title: "t", Description: "d", Hours: 1, Date: day(d)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Submit(ctx, "other", SubmitInput{Title: "t", Description: "d", Hours: 1, Date: day("2026-01-09")}); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	var prev *Entry
	cursor := ""
	pages := 0
	for {
		page, err := svc.List(ctx, "s1", Filter{Cursor: cursor})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		pages++
		for i := range page.Entries {
			e := page.Entries[i]
			if seen[e.ID] {
				t.Fatalf("entry %s repeated", e.ID)
			}
			seen[e.ID] = true
			if e.StudentID != "s1" {
				t.Fatalf("foreign entry %+v", e)
			}
			if prev != nil && e.Date.After(prev.Date) {
				t.Fatalf("order broken: %v after %v", e.Date, prev.Date)
			}
			prev = &e
		}
		if !page.HasMore {
			if page.NextCursor != "" {
				t.Error("last page should carry no cursor")
			}
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != len(dates) {
		t.Errorf("saw %d entries, want %d", len(seen), len(dates))
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
}

func TestListFilterAndCursorErrors(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, 10, nil, zap.NewNop())
	ctx := context.Background()
	st.entries["a"] = Entry{ID: "a", StudentID: "s1", Status: StatusApproved, Hours: 4, Date: day("2026-02-01")}
	st.entries["b"] = Entry{ID: "b", StudentID: "s1", Status: StatusPending, Hours: 2, Date: day("2026-02-02")}

	page, err := svc.List(ctx, "s1", Filter{Status: StatusApproved})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 1 || page.Entries[0].ID != "a" {
		t.Errorf("filtered page = %+v", page.Entries)
	}

	if _, err := svc.List(ctx, "s1", Filter{Cursor: "%%%"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad cursor: err = %v", err)
	}

	empty, err := svc.List(ctx, "nobody", Filter{})
	if err != nil || empty.Entries == nil || len(empty.Entries) != 0 {
		t.Errorf("empty page = %+v, err %v", empty, err)
	}

	sum, err := svc.Summary(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Approved != 4 || sum.Pending != 2 || sum.Rejected != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{"": "", "Pending": StatusPending, "approved": StatusApproved, " rejected ": StatusRejected} {
		got, err := ParseStatus(in)
		if err != nil || got != want {
			t.Errorf("ParseStatus(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseStatus("archived"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown status: %v", err)
	}
}

func TestEntryJSONUsesCalendarDate(t *testing.T) {
	raw, err := json.Marshal(Entry{ID: "e1", Date: day("2026-03-04"), Status: StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out["date"] != "2026-03-04" {
		t.Errorf("date = %v", out["date"])
	}
	if att, ok := out["attachments"].([]any); !ok || len(att) != 0 {
		t.Errorf("attachments = %v", out["attachments"])
	}
}
