package userstore

import "testing"

func TestAddAndAuthenticate(t *testing.T) {
	s := New(4)
	if err := s.Add("alice", "secret"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !s.Authenticate("alice", "secret") {
		t.Fatal("Authenticate should succeed with correct password")
	}
	if s.Authenticate("alice", "wrong") {
		t.Fatal("Authenticate should fail with wrong password")
	}
	if s.Authenticate("bob", "secret") {
		t.Fatal("Authenticate should fail for unknown user")
	}
}

func TestAddUserTwiceIsRejected(t *testing.T) {
	s := New(4)
	if err := s.Add("alice", "secret"); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := s.Add("alice", "other"); err == nil {
		t.Fatal("second Add with the same name should fail")
	}
	if !s.Authenticate("alice", "secret") {
		t.Fatal("original password should survive a rejected duplicate Add")
	}
}

func TestAddRejectsBlankName(t *testing.T) {
	s := New(4)
	if err := s.Add("", "secret"); err == nil {
		t.Fatal("blank username should be rejected")
	}
}

func TestAddRejectsFullTable(t *testing.T) {
	s := New(1)
	if err := s.Add("alice", "secret"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("bob", "secret"); err == nil {
		t.Fatal("Add beyond capacity should fail")
	}
}

func TestEmptyReflectsTableState(t *testing.T) {
	s := New(4)
	if !s.Empty() {
		t.Fatal("Empty should be true for a fresh table")
	}
	s.Add("alice", "secret")
	if s.Empty() {
		t.Fatal("Empty should be false once a user exists")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestSeedStopsAtFirstRejection(t *testing.T) {
	s := New(4)
	users := []User{{Name: "alice", Password: "a"}, {Name: "alice", Password: "b"}}
	if err := s.Seed(users); err == nil {
		t.Fatal("Seed with a duplicate name should fail")
	}
	if !s.Authenticate("alice", "a") {
		t.Fatal("the first seeded user should still be present")
	}
}
