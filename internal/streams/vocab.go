// Package streams is a typed model of the ActivityStreams 2.0 vocabulary.
//
// Every value resolves to exactly one vocabulary type name. Properties the
// vocabulary declares are held in typed fields; anything else lands in the
// value's Extra map. All mutations go through a Registry, which validates
// attributes before they are stored.
package streams

import "fmt"

// Category is one of the four disjoint vocabulary lists.
type Category int

const (
	CategoryCore Category = iota + 1
	CategoryActor
	CategoryActivity
	CategoryObject
)

func (c Category) String() string {
	switch c {
	case CategoryCore:
		return "core"
	case CategoryActor:
		return "actor"
	case CategoryActivity:
		return "activity"
	case CategoryObject:
		return "object"
	}
	return "unknown"
}

// family selects the Go type backing a vocabulary name.
type family int

const (
	famObject family = iota + 1
	famLink
	famActivity
	famIntransitive
	famActor
	famCollection
	famOrderedCollection
	famCollectionPage
	famOrderedCollectionPage
	famQuestion
	famTombstone
	famPlace
)

// Kind is a resolved vocabulary type.
type Kind struct {
	Name     string
	Category Category
	family   family
}

var (
	coreTypes = map[string]family{
		"Activity":              famActivity,
		"Collection":            famCollection,
		"CollectionPage":        famCollectionPage,
		"IntransitiveActivity":  famIntransitive,
		"Link":                  famLink,
		"Object":                famObject,
		"OrderedCollection":     famOrderedCollection,
		"OrderedCollectionPage": famOrderedCollectionPage,
	}
	actorTypes = map[string]family{
		"Application":  famActor,
		"Group":        famActor,
		"Organization": famActor,
		"Person":       famActor,
		"Service":      famActor,
	}
	activityTypes = map[string]family{
		"Accept":   famActivity,
		"Add":      famActivity,
		"Announce": famActivity,
		"Block":    famActivity,
		"Create":   famActivity,
		"Delete":   famActivity,
		"Follow":   famActivity,
		"Ignore":   famActivity,
		"Invite":   famActivity,
		"Join":     famActivity,
		"Leave":    famActivity,
		"Like":     famActivity,
		"Question": famQuestion,
		"Reject":   famActivity,
		"Remove":   famActivity,
		"Undo":     famActivity,
	}
	objectTypes = map[string]family{
		"Article":   famObject,
		"Audio":     famObject,
		"Document":  famObject,
		"Event":     famObject,
		"Image":     famObject,
		"Mention":   famLink,
		"Note":      famObject,
		"Page":      famObject,
		"Place":     famPlace,
		"Profile":   famObject,
		"Tombstone": famTombstone,
		"Video":     famObject,
	}
)

// ResolutionError reports a type name outside the vocabulary.
type ResolutionError struct {
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("streams: unknown type %q", e.Name)
}

func buildKinds() map[string]Kind {
	kinds := make(map[string]Kind, 41)
	add := func(c Category, names map[string]family) {
		for name, f := range names {
			kinds[name] = Kind{Name: name, Category: c, family: f}
		}
	}
	add(CategoryCore, coreTypes)
	add(CategoryActor, actorTypes)
	add(CategoryActivity, activityTypes)
	add(CategoryObject, objectTypes)
	return kinds
}

// Names returns every vocabulary type name of a category.
func Names(c Category) []string {
	var src map[string]family
	switch c {
	case CategoryCore:
		src = coreTypes
	case CategoryActor:
		src = actorTypes
	case CategoryActivity:
		src = activityTypes
	case CategoryObject:
		src = objectTypes
	}
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	return names
}
