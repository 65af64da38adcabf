package remote

import "time"

// Pagination carries the optional paging signals an endpoint may return. Fields
// vary by endpoint, so every one of them is optional.
type Pagination struct {
	Length     *int  `json:"length,omitempty"`
	TotalPages *int  `json:"total_pages,omitempty"`
	Page       int   `json:"current_page,omitempty"`
	Per        int   `json:"per,omitempty"`
	NextPage   *int  `json:"next_page,omitempty"`
	HasMore    *bool `json:"has_more,omitempty"`
}

// RawUser is the owner summary and actor profile payload.
type RawUser struct {
	ID             int64  `json:"id"`
	Slug           string `json:"slug"`
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	Avatar         string `json:"avatar"`
	ChannelCount   int    `json:"channel_count"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
}

// RawCollection is a collection as returned by metadata, connections and actor
// collection endpoints. Contents is only populated by some endpoints.
type RawCollection struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"metadata_description,omitempty"`
	Length      *int      `json:"length,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	User        *RawUser  `json:"user,omitempty"`
	Contents    []RawItem `json:"contents,omitempty"`
}

// ImageVersion is one rendered size of an image.
type ImageVersion struct {
	URL string `json:"url"`
}

// RawImage lists the rendered versions of an item's image.
type RawImage struct {
	Thumb    *ImageVersion `json:"thumb,omitempty"`
	Display  *ImageVersion `json:"display,omitempty"`
	Large    *ImageVersion `json:"large,omitempty"`
	Original *ImageVersion `json:"original,omitempty"`
}

// RawEmbed is present on media items that are rendered by an embedded player.
type RawEmbed struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	HTML   string `json:"html,omitempty"`
}

// RawSource is the page a link item was captured from.
type RawSource struct {
	URL string `json:"url"`
}

// RawAttachment is the uploaded file of a document item.
type RawAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// RawItem is a block as returned by the contents endpoints.
type RawItem struct {
	ID         int64          `json:"id"`
	Class      string         `json:"class"`
	BaseClass  string         `json:"base_class"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Slug       string         `json:"slug,omitempty"`
	Image      *RawImage      `json:"image,omitempty"`
	Embed      *RawEmbed      `json:"embed,omitempty"`
	Source     *RawSource     `json:"source,omitempty"`
	Attachment *RawAttachment `json:"attachment,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ContentsPage is one page of a collection's items.
type ContentsPage struct {
	Pagination
	Contents []RawItem `json:"contents"`
}

// CollectionsPage is one page of collections: connections, an item's
// collections or an actor's owned collections.
type CollectionsPage struct {
	Pagination
	Channels []RawCollection `json:"channels"`
}
