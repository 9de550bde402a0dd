package students

import (
	"strings"
	"testing"
)

func TestAddHoursQueryFloorsAtZero(t *testing.T) {
	query, args, err := addHoursQuery("u1", -7.5).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"UPDATE students SET total_hours = GREATEST(0, total_hours + $1)",
		"WHERE uid = $2",
		"RETURNING total_hours",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
	if len(args) != 2 || args[0] != -7.5 || args[1] != "u1" {
		t.Errorf("args = %v", args)
	}
}

func TestListQueryAdminFilter(t *testing.T) {
	query, _, err := listQuery("", false).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(query, "is_admin = $1") {
		t.Errorf("List must exclude admins: %q", query)
	}
	if !strings.HasSuffix(query, "ORDER BY class, roll_number") {
		t.Errorf("order: %q", query)
	}

	query, args, err := listQuery("", true).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(query, "WHERE") || len(args) != 0 {
		t.Errorf("All must not filter records: %q %v", query, args)
	}
}

func TestListQuerySearch(t *testing.T) {
	query, args, err := listQuery("  10A ", false).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(query, "name ILIKE $2") || !strings.Contains(query, "email ILIKE $5") {
		t.Errorf("query = %q", query)
	}
	if len(args) != 5 || args[1] != "%10A%" {
		t.Errorf("args = %v", args)
	}
}

func TestResetRequiredQueryOnlyTouchesStaleRecords(t *testing.T) {
	query, args, err := resetRequiredQuery(60).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	want := "UPDATE students SET required_hours = $1, updated_at = NOW() WHERE required_hours <> $2"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 2 || args[0] != 60.0 || args[1] != 60.0 {
		t.Errorf("args = %v", args)
	}
}
