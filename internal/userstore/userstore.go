// Package userstore implements the process-wide user table: a bounded
// set of {name, password} records, mutated only by the monitor plane's
// ADDUSER command and read by the RFC 1929 authentication subnegotiation.
// Like metrics, it is touched only from the event-loop goroutine, so no
// lock guards it.
package userstore

import "fmt"

// DefaultCapacity bounds the table the way the C reference's
// args.h/auth.c fixed-size user array does, adapted to a configurable
// startup value instead of a compile-time constant.
const DefaultCapacity = 64

// User is a single table entry.
type User struct {
	Name     string
	Password string
}

// Store is the bounded, name-unique user table.
type Store struct {
	capacity int
	order    []string
	byName   map[string]string
}

// New creates an empty Store with the given capacity. A capacity <= 0
// falls back to DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		byName:   make(map[string]string, capacity),
	}
}

// Seed loads the startup user list (config.Config.Users), copied by
// reference from an immutable startup struct per spec §3 ("entries
// inserted at startup (copied by reference)"). Blank names and
// duplicates are rejected exactly like a runtime Add so a malformed
// config fails the same way an ADDUSER command would.
func (s *Store) Seed(users []User) error {
	for _, u := range users {
		if err := s.Add(u.Name, u.Password); err != nil {
			return fmt.Errorf("userstore: seed: %w", err)
		}
	}
	return nil
}

// Add inserts a new user, copied by value. Blank names and duplicate
// names are rejected; a full table is also rejected.
func (s *Store) Add(name, password string) error {
	if name == "" {
		return fmt.Errorf("userstore: blank username rejected")
	}
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("userstore: user %q already exists", name)
	}
	if len(s.order) >= s.capacity {
		return fmt.Errorf("userstore: table full (capacity %d)", s.capacity)
	}
	s.byName[name] = password
	s.order = append(s.order, name)
	return nil
}

// Authenticate reports whether name/password matches a table entry.
func (s *Store) Authenticate(name, password string) bool {
	pw, ok := s.byName[name]
	return ok && pw == password
}

// Len returns the number of users currently in the table.
func (s *Store) Len() int { return len(s.order) }

// Empty reports whether the table has no users — the greeting parser's
// method-selection policy treats an empty table as "USER/PASS never
// preferred" (spec §4.D).
func (s *Store) Empty() bool { return len(s.order) == 0 }
