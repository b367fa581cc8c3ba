// Package paging slices ordered lists into fixed-size pages.
package paging

// PageSize is the number of audit log entries shown per page.
const PageSize = 8

// Page is one page of items. Index is 1-based; TotalPages is 0 for an
// empty input, in which case Index is 1 and Items is empty.
type Page[T any] struct {
	Index      int
	Items      []T
	TotalPages int
	TotalItems int
	Size       int
}

// Paginate returns the requested page of entries. The requested page is
// clamped into [1, max(1, TotalPages)], so out of range requests are never
// rejected. A pageSize below 1 means PageSize. entries is not modified and
// the returned Items do not share its backing array.
func Paginate[T any](entries []T, pageSize, requested int) Page[T] {
	if pageSize < 1 {
		pageSize = PageSize
	}
	total := (len(entries) + pageSize - 1) / pageSize
	index := requested
	if index > total {
		index = total
	}
	if index < 1 {
		index = 1
	}
	start := (index - 1) * pageSize
	end := start + pageSize
	if start > len(entries) {
		start = len(entries)
	}
	if end > len(entries) {
		end = len(entries)
	}
	items := make([]T, end-start)
	copy(items, entries[start:end])
	return Page[T]{
		Index:      index,
		Items:      items,
		TotalPages: total,
		TotalItems: len(entries),
		Size:       pageSize,
	}
}

// HasPrev reports whether a previous page exists.
func (p Page[T]) HasPrev() bool {
	return p.Index > 1
}

// HasNext reports whether a following page exists.
func (p Page[T]) HasNext() bool {
	return p.Index < p.TotalPages
}

// Prev is the previous page index, clamped to 1.
func (p Page[T]) Prev() int {
	if p.Index > 1 {
		return p.Index - 1
	}
	return 1
}

// Next is the following page index, clamped to the last page.
func (p Page[T]) Next() int {
	if p.Index < p.TotalPages {
		return p.Index + 1
	}
	return p.Index
}

// FirstItem is the 1-based position of the first item on the page, 0 when
// the page is empty.
func (p Page[T]) FirstItem() int {
	if len(p.Items) == 0 {
		return 0
	}
	return (p.Index-1)*p.Size + 1
}

// LastItem is the 1-based position of the last item on the page.
func (p Page[T]) LastItem() int {
	if len(p.Items) == 0 {
		return 0
	}
	return p.FirstItem() + len(p.Items) - 1
}
