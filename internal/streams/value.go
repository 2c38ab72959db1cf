package streams

import (
	"time"
)

// Value is one member of the vocabulary union. The set of implementations
// is closed: Object, Link, Activity, Actor, Collection, CollectionPage,
// Question, Tombstone and Place.
type Value interface {
	TypeName() string
	GetID() string
	fields() fieldSet
	extra() map[string]any
}

// specialProps is implemented by families with properties that do not fit
// the generic field kinds.
type specialProps interface {
	setSpecial(r *Registry, name string, v any) (bool, error)
	encodeSpecial(m map[string]any)
}

// Ref is a relation to another value: by identifier, or embedded by value.
type Ref struct {
	IRI   string
	Value Value
}

// IRI references a value by identifier.
func IRI(id string) Ref { return Ref{IRI: id} }

// Embed references a value by embedding it.
func Embed(v Value) Ref { return Ref{Value: v} }

// ID returns the identifier of the referenced value.
func (r Ref) ID() string {
	if r.Value != nil {
		if l, ok := r.Value.(*Link); ok && l.ID == "" {
			return l.Href
		}
		return r.Value.GetID()
	}
	return r.IRI
}

// Refs is an ordered list of relations. A single JSON value decodes to a
// one-element list.
type Refs []Ref

// First returns the first relation, or the zero Ref.
func (rs Refs) First() Ref {
	if len(rs) == 0 {
		return Ref{}
	}
	return rs[0]
}

// IDs returns the identifiers of all relations.
func (rs Refs) IDs() []string {
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		if id := r.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Contains reports whether any relation has the given identifier.
func (rs Refs) Contains(id string) bool {
	for _, r := range rs {
		if r.ID() == id {
			return true
		}
	}
	return false
}

// Object is the base of every non-link type.
type Object struct {
	Type         string
	ID           string
	Name         string
	NameMap      map[string]string
	Content      string
	ContentMap   map[string]string
	Summary      string
	SummaryMap   map[string]string
	MediaType    string
	Duration     string
	URL          Refs
	AttributedTo Refs
	Attachment   Refs
	Tag          Refs
	To           Refs
	CC           Refs
	BTo          Refs
	BCC          Refs
	Audience     Refs
	InReplyTo    Refs
	Icon         Refs
	Image        Refs
	Location     Refs
	Generator    Refs
	Preview      Refs
	Replies      Refs
	Published    *time.Time
	Updated      *time.Time
	StartTime    *time.Time
	EndTime      *time.Time
	Extra        map[string]any
}

func (o *Object) TypeName() string { return o.Type }
func (o *Object) GetID() string    { return o.ID }

func (o *Object) extra() map[string]any {
	if o.Extra == nil {
		o.Extra = make(map[string]any)
	}
	return o.Extra
}

func (o *Object) fields() fieldSet {
	return fieldSet{
		strings: map[string]*string{
			"id":        &o.ID,
			"name":      &o.Name,
			"content":   &o.Content,
			"summary":   &o.Summary,
			"mediaType": &o.MediaType,
			"duration":  &o.Duration,
		},
		maps: map[string]*map[string]string{
			"nameMap":    &o.NameMap,
			"contentMap": &o.ContentMap,
			"summaryMap": &o.SummaryMap,
		},
		refs: map[string]*Refs{
			"url":          &o.URL,
			"attributedTo": &o.AttributedTo,
			"attachment":   &o.Attachment,
			"tag":          &o.Tag,
			"to":           &o.To,
			"cc":           &o.CC,
			"bto":          &o.BTo,
			"bcc":          &o.BCC,
			"audience":     &o.Audience,
			"inReplyTo":    &o.InReplyTo,
			"icon":         &o.Icon,
			"image":        &o.Image,
			"location":     &o.Location,
			"generator":    &o.Generator,
			"preview":      &o.Preview,
			"replies":      &o.Replies,
		},
		times: map[string]**time.Time{
			"published": &o.Published,
			"updated":   &o.Updated,
			"startTime": &o.StartTime,
			"endTime":   &o.EndTime,
		},
	}
}

// Link is a qualified reference to a resource.
type Link struct {
	Type      string
	ID        string
	Href      string
	Rel       []string
	MediaType string
	Name      string
	NameMap   map[string]string
	HrefLang  string
	Height    *int
	Width     *int
	Preview   Refs
	Extra     map[string]any
}

func (l *Link) TypeName() string { return l.Type }
func (l *Link) GetID() string    { return l.ID }

func (l *Link) extra() map[string]any {
	if l.Extra == nil {
		l.Extra = make(map[string]any)
	}
	return l.Extra
}

func (l *Link) fields() fieldSet {
	return fieldSet{
		strings: map[string]*string{
			"id":        &l.ID,
			"href":      &l.Href,
			"mediaType": &l.MediaType,
			"name":      &l.Name,
			"hreflang":  &l.HrefLang,
		},
		maps: map[string]*map[string]string{"nameMap": &l.NameMap},
		refs: map[string]*Refs{"preview": &l.Preview},
		ints: map[string]**int{"height": &l.Height, "width": &l.Width},
	}
}

func (l *Link) setSpecial(_ *Registry, name string, v any) (bool, error) {
	if name != "rel" {
		return false, nil
	}
	rel, err := asStrings(name, v)
	l.Rel = rel
	return true, err
}

func (l *Link) encodeSpecial(m map[string]any) {
	switch len(l.Rel) {
	case 0:
	case 1:
		m["rel"] = l.Rel[0]
	default:
		m["rel"] = l.Rel
	}
}

// Activity is a transitive or intransitive activity.
type Activity struct {
	Object
	Actor      Refs
	Objects    Refs // "object"
	Target     Refs
	Result     Refs
	Origin     Refs
	Instrument Refs
}

func (a *Activity) fields() fieldSet {
	fs := a.Object.fields()
	fs.refs["actor"] = &a.Actor
	fs.refs["object"] = &a.Objects
	fs.refs["target"] = &a.Target
	fs.refs["result"] = &a.Result
	fs.refs["origin"] = &a.Origin
	fs.refs["instrument"] = &a.Instrument
	return fs
}

// PublicKey is the key block of an actor document.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Actor is any of the actor types.
type Actor struct {
	Object
	PreferredUsername string
	Inbox             string
	Outbox            string
	Followers         string
	Following         string
	Liked             string
	PublicKey         *PublicKey
	Endpoints         map[string]string
}

func (a *Actor) fields() fieldSet {
	fs := a.Object.fields()
	fs.strings["preferredUsername"] = &a.PreferredUsername
	fs.strings["inbox"] = &a.Inbox
	fs.strings["outbox"] = &a.Outbox
	fs.strings["followers"] = &a.Followers
	fs.strings["following"] = &a.Following
	fs.strings["liked"] = &a.Liked
	fs.maps["endpoints"] = &a.Endpoints
	return fs
}

func (a *Actor) setSpecial(_ *Registry, name string, v any) (bool, error) {
	if name != "publicKey" {
		return false, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return true, errType(name, "object")
	}
	pk := &PublicKey{}
	pk.ID, _ = m["id"].(string)
	pk.Owner, _ = m["owner"].(string)
	pk.PublicKeyPem, _ = m["publicKeyPem"].(string)
	a.PublicKey = pk
	return true, nil
}

func (a *Actor) encodeSpecial(m map[string]any) {
	if a.PublicKey != nil {
		m["publicKey"] = map[string]any{
			"id":           a.PublicKey.ID,
			"owner":        a.PublicKey.Owner,
			"publicKeyPem": a.PublicKey.PublicKeyPem,
		}
	}
}

// SharedInbox returns endpoints.sharedInbox when present.
func (a *Actor) SharedInbox() string {
	return a.Endpoints["sharedInbox"]
}

// Collection is an ordered or unordered collection.
type Collection struct {
	Object
	Ordered    bool
	Items      Refs
	ItemsSet   bool
	TotalItems *int
	First      Refs
	Last       Refs
	Current    Refs
}

func (c *Collection) fields() fieldSet {
	fs := c.Object.fields()
	fs.refs["first"] = &c.First
	fs.refs["last"] = &c.Last
	fs.refs["current"] = &c.Current
	fs.ints = map[string]**int{"totalItems": &c.TotalItems}
	return fs
}

func (c *Collection) setSpecial(r *Registry, name string, v any) (bool, error) {
	if name != "items" && name != "orderedItems" {
		return false, nil
	}
	items, err := r.refs(v)
	if err != nil {
		return true, err
	}
	c.Items = items
	c.ItemsSet = true
	return true, nil
}

func (c *Collection) encodeSpecial(m map[string]any) {
	items := encodeRefList(c.Items)
	if c.Ordered {
		m["orderedItems"] = items
	} else {
		m["items"] = items
	}
}

// SetItems replaces the items of the collection.
func (c *Collection) SetItems(items Refs) {
	c.Items = items
	c.ItemsSet = true
	n := len(items)
	c.TotalItems = &n
}

// CollectionPage is one page of a paged collection.
type CollectionPage struct {
	Collection
	PartOf     Refs
	Next       Refs
	Prev       Refs
	StartIndex *int
}

func (p *CollectionPage) fields() fieldSet {
	fs := p.Collection.fields()
	fs.refs["partOf"] = &p.PartOf
	fs.refs["next"] = &p.Next
	fs.refs["prev"] = &p.Prev
	fs.ints["startIndex"] = &p.StartIndex
	return fs
}

// Question is an intransitive activity offering choices.
type Question struct {
	Activity
	OneOf  Refs
	AnyOf  Refs
	Closed any
}

func (q *Question) fields() fieldSet {
	fs := q.Activity.fields()
	fs.refs["oneOf"] = &q.OneOf
	fs.refs["anyOf"] = &q.AnyOf
	return fs
}

func (q *Question) setSpecial(_ *Registry, name string, v any) (bool, error) {
	if name != "closed" {
		return false, nil
	}
	q.Closed = v
	return true, nil
}

func (q *Question) encodeSpecial(m map[string]any) {
	if q.Closed != nil {
		m["closed"] = q.Closed
	}
}

// Tombstone marks a deleted object.
type Tombstone struct {
	Object
	FormerType string
	Deleted    *time.Time
}

func (t *Tombstone) fields() fieldSet {
	fs := t.Object.fields()
	fs.strings["formerType"] = &t.FormerType
	fs.times["deleted"] = &t.Deleted
	return fs
}

// Place is a physical or logical location.
type Place struct {
	Object
	Accuracy  *float64
	Altitude  *float64
	Latitude  *float64
	Longitude *float64
	Radius    *float64
	Units     string
}

func (p *Place) fields() fieldSet {
	fs := p.Object.fields()
	fs.strings["units"] = &p.Units
	fs.floats = map[string]**float64{
		"accuracy":  &p.Accuracy,
		"altitude":  &p.Altitude,
		"latitude":  &p.Latitude,
		"longitude": &p.Longitude,
		"radius":    &p.Radius,
	}
	return fs
}

func newValue(k Kind) Value {
	base := Object{Type: k.Name}
	switch k.family {
	case famLink:
		return &Link{Type: k.Name}
	case famActivity, famIntransitive:
		return &Activity{Object: base}
	case famActor:
		return &Actor{Object: base}
	case famCollection:
		return &Collection{Object: base}
	case famOrderedCollection:
		return &Collection{Object: base, Ordered: true}
	case famCollectionPage:
		return &CollectionPage{Collection: Collection{Object: base}}
	case famOrderedCollectionPage:
		return &CollectionPage{Collection: Collection{Object: base, Ordered: true}}
	case famQuestion:
		return &Question{Activity: Activity{Object: base}}
	case famTombstone:
		return &Tombstone{Object: base}
	case famPlace:
		return &Place{Object: base}
	}
	return &base
}
