// Package invalidation guarantees that every cached derivation of a mutated
// entity is purged. The key catalog is the authoritative, versioned list of
// key shapes; every cache-writing code path must register its shape here at
// startup so no key can silently go stale.
package invalidation

import (
	"fmt"
	"strings"
)

// EntityPlaceholder marks where the entity id is substituted in a pattern.
const EntityPlaceholder = "{entity}"

// Param is one finite parameter domain of a key group.
type Param struct {
	Name   string
	Values []string
}

// Group is a logical family of cache keys: a pattern with an optional
// {entity} placeholder and named parameter placeholders, plus the finite
// domain of each parameter. A group without {entity} is global: its keys are
// shared across entities and purged on every invalidation.
type Group struct {
	Name    string
	Pattern string
	Params  []Param
}

// Catalog is versioned data, not derived from live traffic.
type Catalog struct {
	version string
	groups  []Group
	byName  map[string]int
}

func NewCatalog(version string) *Catalog {
	return &Catalog{
		version: version,
		byName:  make(map[string]int),
	}
}

func (c *Catalog) Version() string { return c.version }

// Register adds a key group. Group names are unique; patterns must reference
// every declared parameter.
func (c *Catalog) Register(g Group) error {
	if g.Name == "" {
		return fmt.Errorf("group name must not be empty")
	}
	if _, exists := c.byName[g.Name]; exists {
		return fmt.Errorf("group %q is already registered", g.Name)
	}
	for _, p := range g.Params {
		placeholder := "{" + p.Name + "}"
		if !strings.Contains(g.Pattern, placeholder) {
			return fmt.Errorf("group %q: pattern is missing placeholder %s", g.Name, placeholder)
		}
		if len(p.Values) == 0 {
			return fmt.Errorf("group %q: parameter %q has an empty domain", g.Name, p.Name)
		}
	}
	c.byName[g.Name] = len(c.groups)
	c.groups = append(c.groups, g)
	return nil
}

// Groups returns the registered groups in registration order.
func (c *Catalog) Groups() []Group {
	return append([]Group(nil), c.groups...)
}

// Size is the number of concrete keys one invalidation expands to.
func (c *Catalog) Size() int {
	total := 0
	for _, g := range c.groups {
		n := 1
		for _, p := range g.Params {
			n *= len(p.Values)
		}
		total += n
	}
	return total
}

// ExpandEntity turns the catalog into the concrete key strings for one
// entity, in deterministic order (registration order, parameter domains in
// declared order).
func (c *Catalog) ExpandEntity(entityID string) []string {
	keys := make([]string, 0, c.Size())
	for _, g := range c.groups {
		base := strings.ReplaceAll(g.Pattern, EntityPlaceholder, entityID)
		keys = append(keys, expandParams(base, g.Params)...)
	}
	return keys
}

func expandParams(pattern string, params []Param) []string {
	if len(params) == 0 {
		return []string{pattern}
	}
	head, rest := params[0], params[1:]
	placeholder := "{" + head.Name + "}"
	var keys []string
	for _, v := range head.Values {
		keys = append(keys, expandParams(strings.ReplaceAll(pattern, placeholder, v), rest)...)
	}
	return keys
}

// DefaultCatalog enumerates every cached derivation the kudos backend writes
// today. Keep this in sync with each caching call site: an unregistered key
// shape cannot be invalidated.
func DefaultCatalog() *Catalog {
	c := NewCatalog("2025-08")

	mustRegister := func(g Group) {
		if err := c.Register(g); err != nil {
			panic(err)
		}
	}

	mustRegister(Group{
		Name:    "dashboard_stats",
		Pattern: "kudos:dashboard:{entity}:{period}",
		Params: []Param{
			{Name: "period", Values: []string{"7days", "30days", "90days"}},
		},
	})
	mustRegister(Group{
		Name:    "activity_timeline",
		Pattern: "kudos:timeline:{entity}:{granularity}:{window}",
		Params: []Param{
			{Name: "granularity", Values: []string{"daily", "weekly", "monthly"}},
			{Name: "window", Values: []string{"30d", "90d", "180d", "365d"}},
		},
	})
	// Leaderboards rank all users, so any entity mutation can change them.
	mustRegister(Group{
		Name:    "leaderboard",
		Pattern: "kudos:leaderboard:{period}:{limit}",
		Params: []Param{
			{Name: "period", Values: []string{"weekly", "monthly", "alltime"}},
			{Name: "limit", Values: []string{"10", "25", "50"}},
		},
	})
	mustRegister(Group{
		Name:    "points_history",
		Pattern: "kudos:points:{entity}:history:{limit}",
		Params: []Param{
			{Name: "limit", Values: []string{"10", "25", "50", "100"}},
		},
	})
	mustRegister(Group{
		Name:    "activity_feed",
		Pattern: "kudos:feed:{entity}:{limit}",
		Params: []Param{
			{Name: "limit", Values: []string{"10", "25", "50", "100"}},
		},
	})
	mustRegister(Group{
		Name:    "rewards_catalog",
		Pattern: "kudos:rewards:catalog",
	})
	mustRegister(Group{
		Name:    "user_summary",
		Pattern: "kudos:user:{entity}:summary",
	})
	mustRegister(Group{
		Name:    "streak_stats",
		Pattern: "kudos:streaks:{entity}:{scope}",
		Params: []Param{
			{Name: "scope", Values: []string{"current", "longest", "calendar"}},
		},
	})

	return c
}
