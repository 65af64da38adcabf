// Package model defines shared data structures.
package model

import "time"

// ItemType is the closed set of item categories the remote service exposes.
type ItemType string

const (
	TypeImage      ItemType = "image"
	TypeText       ItemType = "text"
	TypeLink       ItemType = "link"
	TypeMedia      ItemType = "media"
	TypeDocument   ItemType = "document"
	TypeCollection ItemType = "collection" // nested collection
)

// NeedsMeasurement reports whether items of this type are rendered from an image
// and therefore need a measured aspect ratio.
func (t ItemType) NeedsMeasurement() bool {
	switch t {
	case TypeImage, TypeLink, TypeMedia, TypeDocument:
		return true
	}
	return false
}

// AspectSource records where an aspect ratio came from. Only measured aspects are
// ever stored in the registry; the zero value means "no aspect yet".
type AspectSource string

const (
	AspectUnknown  AspectSource = ""
	AspectMeasured AspectSource = "measured"
)

// Quality ranks how trustworthy a measured aspect is. A measured aspect may only be
// replaced by one of strictly higher quality.
type Quality int

const (
	QualityFallback Quality = iota // load failed or no candidate, 1:1 default
	QualityThumb
	QualityDisplay
	QualityLarge
	QualityOriginal
	QualityEmbed // intrinsic dimensions reported by the API
	QualityFixed // type that is never measured (text, nested collection)
)

// DefaultAspect is the ratio assigned when nothing better is known.
const DefaultAspect = 1.0

// Aspect is a width/height ratio with its provenance.
type Aspect struct {
	Ratio   float64      `json:"ratio"`
	Source  AspectSource `json:"source,omitempty"`
	Quality Quality      `json:"quality"`
	URL     string       `json:"url,omitempty"`
}

// Measured reports whether the aspect was obtained by measurement.
func (a Aspect) Measured() bool {
	return a.Source == AspectMeasured
}

// Media holds the candidate image URLs of an item, smallest first.
type Media struct {
	Thumb    string `json:"thumb,omitempty"`
	Display  string `json:"display,omitempty"`
	Large    string `json:"large,omitempty"`
	Original string `json:"original,omitempty"`
}

// Best returns the smallest available candidate and its quality rank.
func (m Media) Best() (string, Quality) {
	switch {
	case m.Thumb != "":
		return m.Thumb, QualityThumb
	case m.Display != "":
		return m.Display, QualityDisplay
	case m.Large != "":
		return m.Large, QualityLarge
	case m.Original != "":
		return m.Original, QualityOriginal
	}
	return "", QualityFallback
}

// Empty reports whether no candidate URL is known.
func (m Media) Empty() bool {
	return m.Thumb == "" && m.Display == "" && m.Large == "" && m.Original == ""
}

// Item is a single piece of content (block), keyed globally by its remote id.
type Item struct {
	ID          int64    `json:"id"`
	Type        ItemType `json:"type"`
	Title       string   `json:"title,omitempty"`
	Content     string   `json:"content,omitempty"`
	SourceURL   string   `json:"source_url,omitempty"`
	Media       Media    `json:"media"`
	EmbedWidth  int      `json:"embed_width,omitempty"`
	EmbedHeight int      `json:"embed_height,omitempty"`
	// NestedSlug is set when the item is itself a collection.
	NestedSlug string `json:"nested_slug,omitempty"`
	Aspect     Aspect `json:"aspect"`
}

// HasEmbedSize reports whether intrinsic dimensions were supplied by the API.
func (it Item) HasEmbedSize() bool {
	return it.EmbedWidth > 0 && it.EmbedHeight > 0
}

// AuthorRef is the owner summary embedded in collection metadata.
type AuthorRef struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug,omitempty"`
	Username string `json:"username,omitempty"`
}

// Collection is the metadata of a remote collection (channel).
type Collection struct {
	Slug        string     `json:"slug"`
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Author      *AuthorRef `json:"author,omitempty"`
	// Length is the item-count hint reported by the API, zero if unknown.
	Length    int       `json:"length,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Actor is a remote user that owns collections.
type Actor struct {
	ID              int64  `json:"id"`
	Slug            string `json:"slug"`
	Username        string `json:"username"`
	FullName        string `json:"full_name,omitempty"`
	AvatarURL       string `json:"avatar_url,omitempty"`
	CollectionCount int    `json:"collection_count,omitempty"`
	FollowerCount   int    `json:"follower_count,omitempty"`
	FollowingCount  int    `json:"following_count,omitempty"`
}

// SyncState is the position of a collection in the pagination state machine.
type SyncState string

const (
	StateFresh        SyncState = "fresh"
	StateMetadataOnly SyncState = "metadata-only"
	StatePartial      SyncState = "partial"
	StateComplete     SyncState = "complete"
	StateError        SyncState = "error"
)
