// Package registry holds the allow-list of robot identities that the
// relay will admit into rooms. Membership is admin-managed and capped at
// a small maximum to bound resource usage per relay process.
package registry

import (
	"errors"
	"regexp"
	"strings"
	"sync"
)

// DefaultMax is the default capacity of the registry (reference deployment
// runs at most two rovers per relay)
const DefaultMax = 2

var idRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{3,64}$`)

// Robot represents a registered robot identity
type Robot struct {
	ID      string `json:"robotId"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Registry is a mutex-guarded allow-list of robots
type Registry struct {
	sync.Mutex
	robots map[string]*Robot
	max    int
}

// New returns an empty registry holding at most max robots
func New(max int) *Registry {
	if max <= 0 {
		max = DefaultMax
	}
	return &Registry{
		robots: make(map[string]*Robot),
		max:    max,
	}
}

// ValidID checks the identity is syntactically acceptable (3-64 chars
// from [A-Za-z0-9._-]) without consulting the allow-list
func ValidID(id string) bool {
	return idRegex.MatchString(id)
}

// Add registers a robot, enabled by default. It is the only operation in
// the package that can fail; per-message validation elsewhere must use
// IsValid which cannot.
func (r *Registry) Add(id, name string) error {
	r.Lock()
	defer r.Unlock()

	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)

	if !ValidID(id) {
		return errors.New("invalid robot id")
	}

	if name == "" {
		return errors.New("missing robot name")
	}

	if _, ok := r.robots[id]; ok {
		return errors.New("robot already registered")
	}

	if len(r.robots) >= r.max {
		return errors.New("registry full")
	}

	r.robots[id] = &Robot{ID: id, Name: name, Enabled: true}

	return nil
}

// Remove deletes a robot from the registry, if present
func (r *Registry) Remove(id string) {
	r.Lock()
	defer r.Unlock()
	delete(r.robots, id)
}

// SetEnabled enables or disables a registered robot
func (r *Registry) SetEnabled(id string, enabled bool) {
	r.Lock()
	defer r.Unlock()
	if robot, ok := r.robots[id]; ok {
		robot.Enabled = enabled
	}
}

// IsValid reports whether an identity is syntactically valid AND an
// enabled member of the allow-list. Side effect free; safe on hot paths.
func (r *Registry) IsValid(id string) bool {
	if !ValidID(id) {
		return false
	}

	r.Lock()
	defer r.Unlock()

	robot, ok := r.robots[id]

	return ok && robot.Enabled
}

// Count returns the number of registered robots, enabled or not
func (r *Registry) Count() int {
	r.Lock()
	defer r.Unlock()
	return len(r.robots)
}

// ListEnabled returns the enabled robots in id order
func (r *Registry) ListEnabled() []Robot {
	r.Lock()
	defer r.Unlock()

	list := []Robot{}

	for _, robot := range r.robots {
		if robot.Enabled {
			list = append(list, *robot)
		}
	}

	sortRobots(list)

	return list
}

func sortRobots(list []Robot) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].ID < list[j-1].ID; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

// ParseRoster loads comma-separated id:name entries, e.g.
// "robot-001:Rover One,robot-002:Rover Two". A bare id is given its id as
// name, matching the env-only deployments.
func ParseRoster(r *Registry, roster string) error {

	for _, entry := range strings.Split(roster, ",") {

		entry = strings.TrimSpace(entry)

		if entry == "" {
			continue
		}

		id, name, found := strings.Cut(entry, ":")

		if !found {
			name = id
		}

		if err := r.Add(id, name); err != nil {
			return err
		}
	}

	return nil
}
