package paging

import (
	"reflect"
	"testing"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestPaginateTwentyEntries(t *testing.T) {
	entries := seq(20)
	wantLens := []int{8, 8, 4}
	var all []int
	for i, want := range wantLens {
		p := Paginate(entries, PageSize, i+1)
		if p.TotalPages != 3 {
			t.Fatalf("page %d: TotalPages = %d, want 3", i+1, p.TotalPages)
		}
		if p.Index != i+1 || len(p.Items) != want {
			t.Fatalf("page %d: index=%d len=%d, want len %d", i+1, p.Index, len(p.Items), want)
		}
		all = append(all, p.Items...)
	}
	if !reflect.DeepEqual(all, entries) {
		t.Fatalf("pages do not reproduce the input: %v", all)
	}

	p := Paginate(entries, PageSize, 5)
	if p.Index != 3 || !reflect.DeepEqual(p.Items, []int{17, 18, 19, 20}) {
		t.Fatalf("page 5 should clamp to 3, got index=%d items=%v", p.Index, p.Items)
	}
	if p.HasNext() || !p.HasPrev() || p.Prev() != 2 || p.Next() != 3 {
		t.Fatalf("unexpected navigation on last page: %+v", p)
	}
	if p.FirstItem() != 17 || p.LastItem() != 20 {
		t.Fatalf("unexpected item range %d-%d", p.FirstItem(), p.LastItem())
	}
}

func TestPaginateClampsLow(t *testing.T) {
	for _, req := range []int{0, -1, -100} {
		p := Paginate(seq(10), PageSize, req)
		if p.Index != 1 || len(p.Items) != 8 {
			t.Fatalf("requested %d: index=%d len=%d", req, p.Index, len(p.Items))
		}
	}
}

func TestPaginateEmpty(t *testing.T) {
	for _, req := range []int{-3, 0, 1, 2, 99} {
		p := Paginate([]string{}, PageSize, req)
		if p.TotalPages != 0 || p.Index != 1 || len(p.Items) != 0 {
			t.Fatalf("requested %d: %+v", req, p)
		}
		if p.HasNext() || p.HasPrev() || p.FirstItem() != 0 {
			t.Fatalf("empty page should have no navigation: %+v", p)
		}
	}
	if p := Paginate[int](nil, PageSize, 1); p.Items == nil || p.TotalPages != 0 {
		t.Fatalf("nil input: %+v", p)
	}
}

func TestPaginateEveryPageSizeReassembles(t *testing.T) {
	for n := 0; n <= 30; n++ {
		entries := seq(n)
		for size := 1; size <= 10; size++ {
			first := Paginate(entries, size, 1)
			var all []int
			for i := 1; i <= first.TotalPages; i++ {
				p := Paginate(entries, size, i)
				if len(p.Items) == 0 || len(p.Items) > size {
					t.Fatalf("n=%d size=%d page=%d has %d items", n, size, i, len(p.Items))
				}
				all = append(all, p.Items...)
			}
			if n == 0 {
				if first.TotalPages != 0 {
					t.Fatalf("empty input should have 0 pages")
				}
				continue
			}
			if !reflect.DeepEqual(all, entries) {
				t.Fatalf("n=%d size=%d: got %v", n, size, all)
			}
		}
	}
}

func TestPaginateDoesNotAlias(t *testing.T) {
	entries := seq(10)
	p := Paginate(entries, 4, 1)
	p.Items[0] = 999
	if entries[0] != 1 {
		t.Fatalf("page items alias the input slice")
	}
}

func TestPaginateDefaultSize(t *testing.T) {
	p := Paginate(seq(9), 0, 1)
	if p.Size != PageSize || len(p.Items) != 8 || p.TotalPages != 2 {
		t.Fatalf("unexpected default size behaviour: %+v", p)
	}
}
