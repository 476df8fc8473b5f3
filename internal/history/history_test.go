package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AppendList(t *testing.T) {
	s := openTestStore(t)

	records := []Record{
		{URL: "https://youtu.be/a", Title: "First", FormatID: "22", FileSize: 100, Platform: "youtube", OutputPath: "/out/first.mp4", CreatedAt: time.Now().Add(-time.Hour)},
		{URL: "https://youtu.be/b", Title: "Second", FormatID: "137", FileSize: 200, Platform: "youtube", OutputPath: "/out/second.mp4", CreatedAt: time.Now()},
	}
	for _, r := range records {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	got, err := s.List(0)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0].Title != "Second" {
		t.Errorf("Expected newest first, got %s", got[0].Title)
	}
	if got[1].FileSize != 100 {
		t.Errorf("Expected file size round trip, got %d", got[1].FileSize)
	}
}

func TestStore_ListLimit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.Append(Record{URL: "u", Title: "t", CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	got, err := s.List(3)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 records with limit, got %d", len(got))
	}
}

func TestStore_Clear(t *testing.T) {
	s := openTestStore(t)

	s.Append(Record{URL: "u1"})
	s.Append(Record{URL: "u2"})

	n, err := s.Clear()
	if err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Clear() = %d, expected 2", n)
	}

	got, err := s.List(0)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty history after Clear, got %d", len(got))
	}
}

func TestStore_AppendStampsCreatedAt(t *testing.T) {
	s := openTestStore(t)

	if err := s.Append(Record{URL: "u"}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	got, err := s.List(1)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(got) != 1 || got[0].CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be stamped on append")
	}
}
