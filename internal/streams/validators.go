package streams

import (
	"mime"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"
)

// Validator reports whether a raw attribute value is acceptable.
type Validator func(value any) bool

var (
	xsdDuration = regexp.MustCompile(`^-?P(\d+Y)?(\d+M)?(\d+W)?(\d+D)?(T(\d+H)?(\d+M)?(\d+(\.\d+)?S)?)?$`)
	markup      = regexp.MustCompile(`<[^>]*>`)
	relInvalid  = regexp.MustCompile(`[\s,]`)
)

var relationalProps = []string{
	"actor", "object", "target", "result", "origin", "instrument",
	"attributedTo", "attachment", "tag", "to", "cc", "bto", "bcc", "audience",
	"inReplyTo", "icon", "image", "location", "generator", "preview", "replies",
	"first", "last", "current", "next", "prev", "partOf", "oneOf", "anyOf",
	"context",
}

// validators builds the per-attribute validator table.
func (r *Registry) validators(v *validator.Validate) map[string]Validator {
	isURL := func(value any) bool {
		s, ok := value.(string)
		return ok && validURL(v, s)
	}
	langTag := func(value any) bool {
		s, ok := value.(string)
		return ok && v.Var(s, "bcp47_language_tag") == nil
	}
	langMap := func(value any) bool {
		m, err := asStringMap("", value)
		if err != nil {
			return false
		}
		for tag := range m {
			if v.Var(tag, "bcp47_language_tag") != nil {
				return false
			}
		}
		return true
	}
	ref := func(value any) bool { return validRef(v, value) }
	refs := func(value any) bool {
		list, ok := value.([]any)
		if !ok {
			return validRef(v, value)
		}
		for _, e := range list {
			if !validRef(v, e) {
				return false
			}
		}
		return true
	}
	rangeOf := func(lo, hi float64) Validator {
		return func(value any) bool {
			f, ok := toFloat(value)
			return ok && f >= lo && f <= hi
		}
	}

	table := map[string]Validator{
		"id":                isURL,
		"href":              isURL,
		"url":               refs,
		"inbox":             isURL,
		"outbox":            isURL,
		"followers":         isURL,
		"following":         isURL,
		"liked":             isURL,
		"hreflang":          langTag,
		"rel":               validRel,
		"mediaType":         validMediaType,
		"name":              validPlainText,
		"preferredUsername": validPlainText,
		"published":         validDateTime,
		"updated":           validDateTime,
		"startTime":         validDateTime,
		"endTime":           validDateTime,
		"deleted":           validDateTime,
		"duration":          validDuration,
		"width":             validNonNegativeInt,
		"height":            validNonNegativeInt,
		"totalItems":        validNonNegativeInt,
		"startIndex":        validNonNegativeInt,
		"radius":            validNonNegativeNumber,
		"altitude":          func(value any) bool { _, ok := toFloat(value); return ok },
		"accuracy":          rangeOf(0, 100),
		"latitude":          rangeOf(-90, 90),
		"longitude":         rangeOf(-180, 180),
		"units":             validUnits(v),
		"items":             refs,
		"orderedItems":      refs,
		"formerType": func(value any) bool {
			s, ok := value.(string)
			if !ok {
				return false
			}
			_, err := r.Resolve(s)
			return err == nil
		},
		"closed": func(value any) bool {
			if _, ok := value.(bool); ok {
				return true
			}
			return validDateTime(value) || ref(value)
		},
		"publicKey": func(value any) bool {
			m, ok := value.(map[string]any)
			if !ok {
				return false
			}
			id, _ := m["id"].(string)
			owner, _ := m["owner"].(string)
			pem, _ := m["publicKeyPem"].(string)
			return validURL(v, id) && validURL(v, owner) && strings.Contains(pem, "PUBLIC KEY")
		},
		"endpoints": func(value any) bool {
			m, err := asStringMap("", value)
			if err != nil {
				return false
			}
			for _, u := range m {
				if !validURL(v, u) {
					return false
				}
			}
			return true
		},
	}
	for _, name := range relationalProps {
		table[name] = refs
	}
	table["nameMap"] = langMap
	table["contentMap"] = langMap
	table["summaryMap"] = langMap
	r.conventions = []convention{
		{suffix: "Map", validate: langMap},
		{suffix: "At", validate: validDateTime},
		{suffix: "Url", validate: isURL},
		{suffix: "URL", validate: isURL},
		{suffix: "Uri", validate: isURL},
	}
	return table
}

type convention struct {
	suffix   string
	validate Validator
}

func validURL(v *validator.Validate, s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return u.Host != "" && v.Var(s, "url") == nil
	case "magnet":
		return validMagnet(s)
	}
	return false
}

func validMagnet(s string) bool {
	rest, ok := strings.CutPrefix(s, "magnet:?")
	if !ok {
		return false
	}
	q, err := url.ParseQuery(rest)
	if err != nil {
		return false
	}
	for _, xt := range q["xt"] {
		if strings.HasPrefix(xt, "urn:") {
			return true
		}
	}
	return false
}

// validRef accepts a bare URL, a Link, or a typed object carrying its own
// id, url or name.
func validRef(v *validator.Validate, value any) bool {
	switch t := value.(type) {
	case string:
		return validURL(v, t)
	case map[string]any:
		if _, ok := t["type"]; ok {
			return true
		}
		for _, k := range []string{"href", "id", "url"} {
			if s, ok := t[k].(string); ok && validURL(v, s) {
				return true
			}
		}
		_, named := t["name"].(string)
		return named
	case Ref:
		return t.Value != nil || validURL(v, t.IRI)
	case Refs:
		return true
	}
	return false
}

func validRel(value any) bool {
	rels, err := asStrings("rel", value)
	if err != nil {
		return false
	}
	for _, rel := range rels {
		if rel == "" || relInvalid.MatchString(rel) {
			return false
		}
	}
	return true
}

func validMediaType(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return false
	}
	major, minor, ok := strings.Cut(mt, "/")
	return ok && major != "" && minor != ""
}

func validPlainText(value any) bool {
	s, ok := value.(string)
	return ok && !markup.MatchString(s)
}

func validDateTime(value any) bool {
	switch t := value.(type) {
	case time.Time:
		return !t.IsZero()
	case string:
		return strfmt.IsDateTime(t)
	}
	return false
}

func validDuration(value any) bool {
	s, ok := value.(string)
	if !ok || s == "P" || s == "-P" || strings.HasSuffix(s, "T") {
		return false
	}
	return xsdDuration.MatchString(s)
}

func validNonNegativeInt(value any) bool {
	n, err := asInt("", value)
	return err == nil && *n >= 0
}

func validNonNegativeNumber(value any) bool {
	f, ok := toFloat(value)
	return ok && f >= 0
}

func validUnits(v *validator.Validate) Validator {
	return func(value any) bool {
		s, ok := value.(string)
		if !ok {
			return false
		}
		switch s {
		case "cm", "feet", "inches", "km", "m", "miles":
			return true
		}
		return validURL(v, s)
	}
}
