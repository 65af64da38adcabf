// Package opml imports and exports the watch list as OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or collection).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one watched collection.
type Entry struct {
	Slug    string
	Title   string
	HTMLURL string // collection page
	XMLURL  string // collection feed
}

// Parse reads an OPML document and returns the collections it references.
// Folders are flattened. Outlines whose slug cannot be derived are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []Entry
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if o.XMLURL == "" && o.HTMLURL == "" {
				walk(o.Outlines)
				continue
			}
			slug := SlugOf(o.XMLURL, o.HTMLURL)
			if slug == "" {
				continue
			}
			title := o.Title
			if title == "" {
				title = o.Text
			}
			entries = append(entries, Entry{Slug: slug, Title: title, HTMLURL: o.HTMLURL, XMLURL: o.XMLURL})
		}
	}
	walk(doc.Body.Outlines)
	return entries, nil
}

// SlugOf derives a collection slug from an outline. A feed url carries the
// slug after its "collections" segment; otherwise the last segment of the
// page url is used.
func SlugOf(xmlURL, htmlURL string) string {
	segs := segments(xmlURL)
	for i, s := range segs {
		if (s == "collections" || s == "channels") && i+1 < len(segs) {
			return segs[i+1]
		}
	}
	if segs := segments(htmlURL); len(segs) > 0 {
		return segs[len(segs)-1]
	}
	return ""
}

func segments(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	var out []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Export generates a flat OPML document from the watch list.
func Export(title string, entries []Entry) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}
	for _, e := range entries {
		text := e.Title
		if text == "" {
			text = e.Slug
		}
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:    text,
			Title:   text,
			Type:    "rss",
			XMLURL:  e.XMLURL,
			HTMLURL: e.HTMLURL,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
