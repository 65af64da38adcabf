package registry

import "github.com/bryan-buckman/chanmirror/internal/model"

// MergeItem fills fields of cur that are missing from incoming and upgrades the
// aspect when UpgradesAspect allows it. Present data is never replaced.
// Applying the same merge twice is a no-op.
func MergeItem(cur, incoming model.Item) (model.Item, bool) {
	out := cur
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
		}
	}
	if out.Type == "" {
		out.Type = incoming.Type
	}
	fill(&out.Title, incoming.Title)
	fill(&out.Content, incoming.Content)
	fill(&out.SourceURL, incoming.SourceURL)
	fill(&out.NestedSlug, incoming.NestedSlug)
	fill(&out.Media.Thumb, incoming.Media.Thumb)
	fill(&out.Media.Display, incoming.Media.Display)
	fill(&out.Media.Large, incoming.Media.Large)
	fill(&out.Media.Original, incoming.Media.Original)
	if !out.HasEmbedSize() && incoming.HasEmbedSize() {
		out.EmbedWidth, out.EmbedHeight = incoming.EmbedWidth, incoming.EmbedHeight
	}
	if UpgradesAspect(cur.Aspect, incoming.Aspect) {
		out.Aspect = incoming.Aspect
	}
	return out, out != cur
}

// UpgradesAspect reports whether next may replace cur. Only measured aspects
// are accepted, and a measured aspect only yields to one of higher quality.
func UpgradesAspect(cur, next model.Aspect) bool {
	if !next.Measured() {
		return false
	}
	if !cur.Measured() {
		return true
	}
	return next.Quality > cur.Quality
}
