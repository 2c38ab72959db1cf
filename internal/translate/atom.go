package translate

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/streams"
)

const (
	asSchema      = "http://activitystrea.ms/schema/1.0/"
	ostatusSchema = "http://ostatus.org/schema/1.0/"

	// atomPublic is the collection OStatus uses to mark public entries.
	atomPublic = "http://activityschema.org/collection/public"
)

var atomVerbs = map[domain.Verb]string{
	domain.VerbCreate:   asSchema + "post",
	domain.VerbFollow:   asSchema + "follow",
	domain.VerbLike:     asSchema + "favorite",
	domain.VerbAnnounce: asSchema + "share",
	domain.VerbDelete:   asSchema + "delete",
	domain.VerbUndo:     ostatusSchema + "unfollow",
}

var atomVerbNames = map[string]domain.Verb{
	"post":     domain.VerbCreate,
	"follow":   domain.VerbFollow,
	"favorite": domain.VerbLike,
	"share":    domain.VerbAnnounce,
	"delete":   domain.VerbDelete,
	"unfollow": domain.VerbUndo,
}

var atomObjectTypes = map[string]string{
	"note":    "Note",
	"comment": "Note",
	"article": "Article",
	"image":   "Image",
	"video":   "Video",
	"audio":   "Audio",
	"event":   "Event",
}

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	ID      string      `xml:"id"`
	Title   string      `xml:"title"`
	Updated string      `xml:"updated"`
	Author  *atomAuthor `xml:"author,omitempty"`
	Links   []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	XMLName    xml.Name       `xml:"http://www.w3.org/2005/Atom entry"`
	ID         string         `xml:"id"`
	Title      string         `xml:"title,omitempty"`
	Content    *atomContent   `xml:"content,omitempty"`
	Author     *atomAuthor    `xml:"author,omitempty"`
	Published  string         `xml:"published,omitempty"`
	Updated    string         `xml:"updated,omitempty"`
	Links      []atomLink     `xml:"link"`
	Verb       string         `xml:"http://activitystrea.ms/spec/1.0/ verb,omitempty"`
	ObjectType string         `xml:"http://activitystrea.ms/spec/1.0/ object-type,omitempty"`
	Object     *atomObject    `xml:"http://activitystrea.ms/spec/1.0/ object,omitempty"`
	InReplyTo  *atomInReplyTo `xml:"http://purl.org/syndication/thread/1.0 in-reply-to,omitempty"`
}

type atomObject struct {
	ID         string       `xml:"http://www.w3.org/2005/Atom id"`
	ObjectType string       `xml:"http://activitystrea.ms/spec/1.0/ object-type,omitempty"`
	Content    *atomContent `xml:"http://www.w3.org/2005/Atom content,omitempty"`
}

type atomContent struct {
	Type string `xml:"type,attr,omitempty"`
	Body string `xml:",chardata"`
}

type atomAuthor struct {
	URI  string `xml:"uri"`
	Name string `xml:"name,omitempty"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr,omitempty"`
	Type string `xml:"type,attr,omitempty"`
	Href string `xml:"href,attr"`
}

type atomInReplyTo struct {
	Ref  string `xml:"ref,attr"`
	Href string `xml:"href,attr,omitempty"`
}

func marshalXML(v any) ([]byte, error) {
	out, err := xml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding atom: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func atomTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return streams.FormatTime(t)
}

func atomAuthorOf(a *domain.Actor) *atomAuthor {
	name := a.Nickname
	if name == "" {
		name = a.DisplayName
	}
	return &atomAuthor{URI: a.URI, Name: name}
}

func atomEntryOf(b Bundle) (*atomEntry, error) {
	if b.Activity == nil || b.Actor == nil {
		return nil, malformed("bundle without activity or actor")
	}
	verb, ok := atomVerbs[b.Activity.Verb]
	if !ok {
		return nil, unsupported("verb %s", b.Activity.Verb)
	}
	e := &atomEntry{
		ID:         b.Activity.URI,
		Author:     atomAuthorOf(b.Actor),
		Published:  atomTime(b.Activity.Published),
		Updated:    atomTime(b.Activity.Published),
		Verb:       verb,
		ObjectType: asSchema + "activity",
	}
	nick := b.Actor.Nickname

	switch b.Activity.Verb {
	case domain.VerbCreate:
		if b.Note == nil {
			return nil, malformed("Create bundle without note")
		}
		n := b.Note
		objType := asSchema + "note"
		if n.InReplyTo != "" {
			objType = asSchema + "comment"
			e.InReplyTo = &atomInReplyTo{Ref: n.InReplyTo}
		}
		content := &atomContent{Type: "html", Body: n.Content}
		e.Title = "New note by " + nick
		e.ObjectType = objType
		e.Content = content
		e.Published = atomTime(n.Published)
		e.Object = &atomObject{ID: n.URI, ObjectType: objType, Content: content}
		if n.URL != "" {
			e.Links = append(e.Links, atomLink{Rel: "alternate", Type: "text/html", Href: n.URL})
		}
		if n.Scope == domain.ScopeNone || n.Scope == domain.ScopePublic {
			e.Links = append(e.Links, atomLink{Rel: "mentioned", Href: atomPublic})
		}
	case domain.VerbFollow:
		if b.Followed == nil {
			return nil, malformed("Follow bundle without followed actor")
		}
		e.Title = nick + " started following " + b.Followed.Nickname
		e.Object = &atomObject{ID: b.Followed.URI, ObjectType: asSchema + "person"}
	case domain.VerbLike, domain.VerbAnnounce, domain.VerbDelete:
		if b.Note == nil {
			return nil, malformed("%s bundle without note", b.Activity.Verb)
		}
		e.Title = fmt.Sprintf("%s %s", nick, strings.TrimPrefix(verb, asSchema))
		e.Object = &atomObject{ID: b.Note.URI, ObjectType: asSchema + "note"}
	case domain.VerbUndo:
		if b.Undone == nil || b.Undone.Activity == nil || b.Undone.Activity.Verb != domain.VerbFollow || b.Undone.Followed == nil {
			return nil, unsupported("atom undo other than of a follow")
		}
		e.Title = nick + " stopped following " + b.Undone.Followed.Nickname
		e.Object = &atomObject{ID: b.Undone.Followed.URI, ObjectType: asSchema + "person"}
	}
	return e, nil
}

// Feed describes the envelope of an Atom feed.
type Feed struct {
	ID      string
	Title   string
	Author  *domain.Actor
	Self    string
	Hub     string
	Updated time.Time
}

// ToExternalFeed renders entries as one Atom feed, the body of a WebSub
// content push.
func (t *Translator) ToExternalFeed(f Feed, entries []Bundle) ([]byte, error) {
	feed := &atomFeed{
		ID:      f.ID,
		Title:   f.Title,
		Updated: atomTime(f.Updated),
	}
	if f.Author != nil {
		feed.Author = atomAuthorOf(f.Author)
	}
	if f.Self != "" {
		feed.Links = append(feed.Links, atomLink{Rel: "self", Type: "application/atom+xml", Href: f.Self})
	}
	if f.Hub != "" {
		feed.Links = append(feed.Links, atomLink{Rel: "hub", Href: f.Hub})
	}
	for _, b := range entries {
		e, err := atomEntryOf(b)
		if err != nil {
			return nil, err
		}
		feed.Entries = append(feed.Entries, *e)
	}
	return marshalXML(feed)
}

func parseFeed(body []byte) ([]atomEntry, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, &Error{Kind: ErrMalformed, Detail: "atom feed", Err: err}
	}
	return feed.Entries, nil
}

func decodeAtomEntry(body []byte) (*inbound, error) {
	var e atomEntry
	if err := xml.Unmarshal(body, &e); err != nil {
		return nil, &Error{Kind: ErrMalformed, Detail: "atom entry", Err: err}
	}
	return entryToActivity(&e)
}

// atomName strips the schema prefix from an OStatus verb or object type.
func atomName(uri string) string {
	s := strings.TrimPrefix(strings.TrimSpace(uri), ostatusSchema)
	return strings.TrimPrefix(s, asSchema)
}

func parseAtomTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return nil, malformed("timestamp %q", s)
	}
	return &t, nil
}

// entryToActivity maps an Atom entry onto the same typed activity the
// ActivityStreams decoder produces.
func entryToActivity(e *atomEntry) (*inbound, error) {
	if e.ID == "" {
		return nil, malformed("entry without id")
	}
	if e.Author == nil || e.Author.URI == "" {
		return nil, malformed("entry %s without author", e.ID)
	}

	verb := domain.VerbCreate
	if e.Verb != "" {
		v, ok := atomVerbNames[atomName(e.Verb)]
		if !ok {
			return nil, unsupported("atom verb %s", e.Verb)
		}
		verb = v
	}
	published, err := parseAtomTime(e.Published)
	if err != nil {
		return nil, err
	}

	actor := streams.IRI(e.Author.URI)
	act := &streams.Activity{Object: streams.Object{Type: string(verb), ID: e.ID, Published: published}}
	act.Actor = streams.Refs{actor}

	objectID := e.ID
	objectType := e.ObjectType
	content := e.Content
	if e.Object != nil {
		if e.Object.ID != "" {
			objectID = e.Object.ID
		}
		if e.Object.ObjectType != "" {
			objectType = e.Object.ObjectType
		}
		if e.Object.Content != nil {
			content = e.Object.Content
		}
	}

	switch verb {
	case domain.VerbCreate:
		name := "note"
		if objectType != "" {
			name = atomName(objectType)
		}
		typ, ok := atomObjectTypes[name]
		if !ok {
			return nil, unsupported("atom object type %s", objectType)
		}
		obj := &streams.Object{
			Type:         typ,
			ID:           objectID,
			AttributedTo: streams.Refs{actor},
			Published:    published,
		}
		if content != nil {
			obj.Content = strings.TrimSpace(content.Body)
		}
		if e.InReplyTo != nil && e.InReplyTo.Ref != "" {
			obj.InReplyTo = streams.Refs{streams.IRI(e.InReplyTo.Ref)}
		}
		for _, l := range e.Links {
			switch {
			case l.Rel == "alternate" && l.Type == "text/html":
				obj.URL = streams.Refs{streams.IRI(l.Href)}
			case l.Rel == "mentioned" && l.Href == atomPublic:
				obj.To = streams.Refs{streams.IRI(streams.PublicAudience)}
			case l.Rel == "mentioned":
				obj.CC = append(obj.CC, streams.IRI(l.Href))
			}
		}
		act.Objects = streams.Refs{streams.Embed(obj)}
	case domain.VerbUndo:
		if e.Object == nil {
			return nil, malformed("unfollow entry %s without object", e.ID)
		}
		inner := &streams.Activity{Object: streams.Object{Type: string(domain.VerbFollow)}}
		inner.Actor = streams.Refs{actor}
		inner.Objects = streams.Refs{streams.IRI(objectID)}
		act.Objects = streams.Refs{streams.Embed(inner)}
	default:
		if e.Object == nil {
			return nil, malformed("%s entry %s without object", verb, e.ID)
		}
		act.Objects = streams.Refs{streams.IRI(objectID)}
	}

	hint := &domain.Actor{URI: e.Author.URI, Nickname: e.Author.Name, ProfileURL: e.Author.URI}
	return &inbound{act: act, author: hint, protocol: domain.ProtocolOStatus}, nil
}
