package pagination

import "math"

// maxOffset bounds the computed offset so oversized page numbers cannot
// overflow the multiplication. Any offset this large is past the end of every
// dataset we serve and yields an empty page.
const maxOffset = math.MaxInt32

// Window translates a 1-indexed (page, limit) request into an (offset, limit)
// slice. Page is clamped to at least 1 and limit to [1, maxLimit]; the offset
// is capped at maxOffset.
func Window(page, limit, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	if page-1 > maxOffset/limit {
		return maxOffset, limit
	}
	return (page - 1) * limit, limit
}

// Meta describes the page that was served.
type Meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewMeta assembles page metadata; Pages is ceil(total/limit).
func NewMeta(page, limit, total int) Meta {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	return Meta{
		Page:  page,
		Limit: limit,
		Total: total,
		Pages: (total + limit - 1) / limit,
	}
}
