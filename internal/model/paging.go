// internal/model/paging.go
package model

// Page is a normalized page request. Negative or zero values fall back to
// defaults; page sizes are clamped at 100.
type Page struct {
	Number int
	Size   int
}

func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	if p.Size > 100 {
		p.Size = 100
	}
	return p
}

func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Number - 1) * n.Size
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

func NewPagination(page Page, total int) Pagination {
	n := page.Normalize()
	return Pagination{
		Page:       n.Number,
		PageSize:   n.Size,
		TotalCount: total,
		TotalPages: (total + n.Size - 1) / n.Size,
	}
}
