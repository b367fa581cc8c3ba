package core

// CategoricalSlice is one slice of the categorical distribution.
type CategoricalSlice struct {
	Label string
	Total Money
}

// SeriesPoint is one period of a multi-series trend. Values is sparse:
// a category with no activity in the period has no entry.
type SeriesPoint struct {
	PeriodLabel string
	Values      map[string]Money
}

// Value returns the amount for key, zero when absent.
func (p SeriesPoint) Value(key string) Money {
	return p.Values[key]
}

// VariancePoint compares credit and debit totals for one month.
type VariancePoint struct {
	PeriodLabel string
	Credit      Money
	Debit       Money
}

// Net is credit minus debit.
func (p VariancePoint) Net() Money {
	return Money{Cents: p.Credit.Cents - p.Debit.Cents}
}

// MonthLabels are the short period labels used by charts, January first.
var MonthLabels = [12]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

// ParseMonthLabel maps JAN..DEC (any case, three or more letters) to 1..12.
func ParseMonthLabel(s string) (int, bool) {
	if len(s) < 3 {
		return 0, false
	}
	prefix := make([]byte, 3)
	for i := 0; i < 3; i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		prefix[i] = c
	}
	for i, l := range MonthLabels {
		if l == string(prefix) {
			return i + 1, true
		}
	}
	return 0, false
}
