package mirror

import "github.com/bryan-buckman/chanmirror/internal/remote"

// pageSignal gathers what is known after fetching a page.
type pageSignal struct {
	page       int
	per        int
	returned   int
	length     int // count hint, zero when unknown
	totalPages int // explicit page count, zero when unknown
	nextPage   *int
	hasMore    *bool
	maxFetched int
}

func signalOf(p remote.Pagination, page, per, returned, length, maxFetched int) pageSignal {
	s := pageSignal{
		page:       page,
		per:        per,
		returned:   returned,
		length:     length,
		nextPage:   p.NextPage,
		hasMore:    p.HasMore,
		maxFetched: maxFetched,
	}
	if p.TotalPages != nil && *p.TotalPages > 0 {
		s.totalPages = *p.TotalPages
	}
	return s
}

// totalPages derives the page count from an explicit count or a length hint,
// returning zero when neither is known.
func totalPages(length, per, explicit int) int {
	if explicit > 0 {
		return explicit
	}
	if length > 0 && per > 0 {
		return (length + per - 1) / per
	}
	return 0
}

// morePages decides whether pages remain after the one described by s. An
// explicit "no more" wins, then a known page count, then the API's next-page
// signals, and finally the short page heuristic.
func morePages(s pageSignal) bool {
	if s.hasMore != nil && !*s.hasMore {
		return false
	}
	if total := totalPages(s.length, s.per, s.totalPages); total > 0 {
		return s.maxFetched < total
	}
	if s.nextPage != nil {
		return *s.nextPage > s.page
	}
	if s.hasMore != nil {
		return true
	}
	return s.returned >= s.per
}
