package remote

import (
	"strings"

	"github.com/bryan-buckman/chanmirror/internal/model"
)

// Classify maps the remote class fields of an item onto the closed ItemType set.
// Unknown classes fall back on the presence of an image.
func Classify(raw RawItem) model.ItemType {
	if strings.EqualFold(raw.BaseClass, "Channel") {
		return model.TypeCollection
	}
	switch strings.ToLower(strings.TrimSpace(raw.Class)) {
	case "image":
		return model.TypeImage
	case "text":
		return model.TypeText
	case "link":
		return model.TypeLink
	case "media":
		return model.TypeMedia
	case "attachment", "document":
		return model.TypeDocument
	case "channel", "collection":
		return model.TypeCollection
	}
	if raw.Image != nil && !mediaOf(raw.Image).Empty() {
		return model.TypeImage
	}
	return model.TypeText
}

func mediaOf(img *RawImage) model.Media {
	var m model.Media
	if img == nil {
		return m
	}
	if img.Thumb != nil {
		m.Thumb = img.Thumb.URL
	}
	if img.Display != nil {
		m.Display = img.Display.URL
	}
	if img.Large != nil {
		m.Large = img.Large.URL
	}
	if img.Original != nil {
		m.Original = img.Original.URL
	}
	return m
}

// NormalizeItem converts a raw item into a registry entry without an aspect.
func NormalizeItem(raw RawItem) model.Item {
	it := model.Item{
		ID:      raw.ID,
		Type:    Classify(raw),
		Title:   raw.Title,
		Content: raw.Content,
		Media:   mediaOf(raw.Image),
	}
	switch {
	case raw.Source != nil && raw.Source.URL != "":
		it.SourceURL = raw.Source.URL
	case raw.Attachment != nil && raw.Attachment.URL != "":
		it.SourceURL = raw.Attachment.URL
	}
	if raw.Embed != nil && raw.Embed.Width > 0 && raw.Embed.Height > 0 {
		it.EmbedWidth = raw.Embed.Width
		it.EmbedHeight = raw.Embed.Height
	}
	if it.Type == model.TypeCollection {
		it.NestedSlug = raw.Slug
	}
	return it
}

// NormalizeCollection converts a raw collection into collection metadata.
func NormalizeCollection(raw RawCollection) model.Collection {
	c := model.Collection{
		Slug:        raw.Slug,
		ID:          raw.ID,
		Title:       raw.Title,
		Description: raw.Description,
		UpdatedAt:   raw.UpdatedAt,
	}
	if raw.Length != nil && *raw.Length > 0 {
		c.Length = *raw.Length
	}
	if raw.User != nil {
		c.Author = &model.AuthorRef{ID: raw.User.ID, Slug: raw.User.Slug, Username: raw.User.Username}
	}
	return c
}

// NormalizeActor converts a raw user into an actor profile.
func NormalizeActor(raw RawUser) model.Actor {
	return model.Actor{
		ID:              raw.ID,
		Slug:            raw.Slug,
		Username:        raw.Username,
		FullName:        raw.FullName,
		AvatarURL:       raw.Avatar,
		CollectionCount: raw.ChannelCount,
		FollowerCount:   raw.FollowerCount,
		FollowingCount:  raw.FollowingCount,
	}
}
