package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/umputun/commons-uitest/settings"
)

// Tag classifies a scenario by what it depends on.
type Tag string

// enum of all scenario tags
const (
	TagAuth0     Tag = "auth0"     // depends on details of Auth0 configuration
	TagDataModel Tag = "datamodel" // depends on details of data model
	TagSmoke     Tag = "smoke"     // checks the data commons is live
)

const roleTagPrefix = "role:"

// RoleTag is the tag of scenarios running as role.
func RoleTag(role settings.Role) Tag { return Tag(roleTagPrefix + string(role)) }

// Markers returns all known tags with descriptions.
func Markers() map[Tag]string {
	res := map[Tag]string{
		TagAuth0:     "depends on details of Auth0 configuration",
		TagDataModel: "depends on details of data model",
		TagSmoke:     "is the data commons live",
	}
	for _, r := range settings.Roles() {
		res[RoleTag(r)] = fmt.Sprintf("run test as %s (%s user)", r, r.Description())
	}
	return res
}

// Scenario declares the role a test runs as and its tags.
type Scenario struct {
	Role settings.Role
	Tags []Tag
}

// AllTags returns scenario tags including the role one.
func (s Scenario) AllTags() []Tag {
	role := s.Role
	if role == "" {
		role = settings.Tier1
	}
	return append(slices.Clone(s.Tags), RoleTag(role))
}

// Selector picks scenarios by tags. Zero Selector matches everything.
type Selector struct {
	include []Tag
	exclude []Tag
}

// ParseSelector parses comma separated tags, "!" prefix excludes a tag,
// i.e. "smoke,!auth0,role:tier2".
func ParseSelector(expr string) (Selector, error) {
	res := Selector{}
	known := Markers()
	for part := range strings.SplitSeq(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		exclude := strings.HasPrefix(part, "!")
		tag := Tag(strings.ToLower(strings.TrimSpace(strings.TrimPrefix(part, "!"))))
		if _, ok := known[tag]; !ok {
			return Selector{}, fmt.Errorf("unknown tag %q in selector %q", tag, expr)
		}
		if exclude {
			res.exclude = append(res.exclude, tag)
			continue
		}
		res.include = append(res.include, tag)
	}
	return res, nil
}

// Match is true if the scenario has every included tag and none of excluded.
func (s Selector) Match(sc Scenario) bool {
	tags := sc.AllTags()
	for _, t := range s.include {
		if !slices.Contains(tags, t) {
			return false
		}
	}
	for _, t := range s.exclude {
		if slices.Contains(tags, t) {
			return false
		}
	}
	return true
}

// String returns selector in the parseable form.
func (s Selector) String() string {
	parts := make([]string, 0, len(s.include)+len(s.exclude))
	for _, t := range s.include {
		parts = append(parts, string(t))
	}
	for _, t := range s.exclude {
		parts = append(parts, "!"+string(t))
	}
	return strings.Join(parts, ",")
}

// SortedMarkers returns marker names in stable order, for listing.
func SortedMarkers() []Tag {
	res := make([]Tag, 0, len(Markers()))
	for t := range Markers() {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}
