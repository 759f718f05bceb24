package domain

import "github.com/samber/lo"

type Child struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Grade     string `json:"grade,omitempty"`
}

type PickupLocation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ContextRules is the set of children and pickup locations a draft may reference.
type ContextRules struct {
	children  map[string]struct{}
	locations map[string]struct{}
}

func NewContextRules(childIDs, locationIDs []string) ContextRules {
	return ContextRules{
		children:  lo.SliceToMap(childIDs, func(id string) (string, struct{}) { return id, struct{}{} }),
		locations: lo.SliceToMap(locationIDs, func(id string) (string, struct{}) { return id, struct{}{} }),
	}
}

func ContextRulesFrom(children []Child, locations []PickupLocation) ContextRules {
	return NewContextRules(
		lo.Map(children, func(c Child, _ int) string { return c.ID }),
		lo.Map(locations, func(l PickupLocation, _ int) string { return l.ID }),
	)
}

func (r ContextRules) HasChild(id string) bool {
	_, ok := r.children[id]
	return ok
}

func (r ContextRules) HasLocation(id string) bool {
	_, ok := r.locations[id]
	return ok
}
