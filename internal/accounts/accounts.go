// Package accounts holds the static user store for the control panel.
// Users are supplied at startup as a roster string; passwords are kept
// only as bcrypt hashes.
package accounts

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/roverlink/roverlink/internal/session"
)

var ErrBadCredentials = errors.New("bad credentials")

// User is a single panel account.
type User struct {
	Username string
	Hash     string
	Role     session.Role
}

// Store is a username-keyed account store. It is safe for concurrent
// use; accounts are loaded once at startup and only read thereafter.
type Store struct {
	mu    sync.RWMutex
	users map[string]User
}

func New() *Store {
	return &Store{users: make(map[string]User)}
}

func (s *Store) Add(u User) error {

	if u.Username == "" {
		return errors.New("missing username")
	}
	if u.Hash == "" {
		return errors.New("missing password hash")
	}
	if u.Role != session.Admin && u.Role != session.User {
		return errors.New("unknown role " + string(u.Role))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.Username] = u

	return nil
}

// Check verifies a username/password pair, returning the account's role
// on success. Unknown usernames and wrong passwords both cost a bcrypt
// comparison and return the same error, so response timing does not
// reveal which usernames exist.
func (s *Store) Check(username, password string) (session.Role, error) {

	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		// burn the same work as a real comparison
		_ = bcrypt.CompareHashAndPassword(decoyHash, []byte(password))
		return "", ErrBadCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)); err != nil {
		return "", ErrBadCredentials
	}

	return u.Role, nil
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// decoyHash is a valid bcrypt hash of an unguessable random string,
// used to equalise the cost of lookups for unknown usernames.
var decoyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// ParseRoster parses a "user:hash:role,user:hash:role" roster string,
// as supplied via configuration. Bcrypt hashes contain '$' but never
// ':' or ',', so a plain split is safe.
func ParseRoster(roster string) (*Store, error) {

	s := New()

	if strings.TrimSpace(roster) == "" {
		return s, nil
	}

	for _, entry := range strings.Split(roster, ",") {

		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, errors.New("malformed user entry " + entry)
		}

		err := s.Add(User{
			Username: strings.TrimSpace(parts[0]),
			Hash:     parts[1],
			Role:     session.Role(strings.TrimSpace(parts[2])),
		})
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// HashPassword produces a bcrypt hash suitable for a roster entry.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
