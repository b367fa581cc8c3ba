package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"finstats/internal/core"
)

// Column headers, matched case-insensitively on the first row.
const (
	colDate        = "Date"
	colName        = "Name"
	colTransaction = "Transaction"
	colDirection   = "Direction"
	colType        = "Type"
	colAmount      = "Amount"
	colCategory    = "Category"
	colAction      = "Action"
	colID          = "ID"
)

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// parseTransactions converts the transactions sheet into records. Blank rows
// are skipped; any other unreadable row is an error naming its sheet row.
func parseTransactions(values [][]interface{}, loc *time.Location) ([]core.TransactionRecord, error) {
	if len(values) == 0 {
		return []core.TransactionRecord{}, nil
	}
	headers := toStrings(values[0])
	cID := indexOf(headers, colID)
	cDate := indexOf(headers, colDate)
	cName := firstIndex(headers, colName, colTransaction)
	cDir := firstIndex(headers, colDirection, colType)
	cAmount := indexOf(headers, colAmount)
	cCategory := indexOf(headers, colCategory)
	if missing := missingColumns(map[string]int{colDate: cDate, colName: cName, colDirection: cDir, colAmount: cAmount}); missing != "" {
		return nil, fmt.Errorf("unexpected transactions header: missing %s; got headers=%v", missing, headers)
	}

	out := make([]core.TransactionRecord, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		if isBlank(row) {
			continue
		}
		at, err := parseDate(safeGet(row, cDate), loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		dir, err := core.ParseDirection(safeGet(row, cDir))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		amount, err := parseAmount(safeGet(row, cAmount))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		name := safeGet(row, cName)
		id := safeGet(row, cID)
		if id == "" {
			id = fmt.Sprintf("row:%d", i+1)
		}
		out = append(out, core.TransactionRecord{
			ID:          id,
			Name:        name,
			Direction:   dir,
			Amount:      amount,
			OccurredAt:  at,
			CategoryKey: core.CategoryKeyFor(name, safeGet(row, cCategory)),
		})
	}
	return out, nil
}

// parseAuditLog converts the logs sheet into entries in sheet order.
func parseAuditLog(values [][]interface{}, loc *time.Location) ([]core.AuditLogEntry, error) {
	if len(values) == 0 {
		return []core.AuditLogEntry{}, nil
	}
	headers := toStrings(values[0])
	cID := indexOf(headers, colID)
	cDate := indexOf(headers, colDate)
	cName := firstIndex(headers, colTransaction, colName)
	cDir := firstIndex(headers, colDirection, colType)
	cAmount := indexOf(headers, colAmount)
	cAction := indexOf(headers, colAction)
	if missing := missingColumns(map[string]int{colDate: cDate, colTransaction: cName, colAction: cAction}); missing != "" {
		return nil, fmt.Errorf("unexpected logs header: missing %s; got headers=%v", missing, headers)
	}

	out := make([]core.AuditLogEntry, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		if isBlank(row) {
			continue
		}
		at, err := parseDate(safeGet(row, cDate), loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		entry := core.AuditLogEntry{
			ID:              safeGet(row, cID),
			TransactionName: safeGet(row, cName),
			RawAction:       safeGet(row, cAction),
			OccurredAt:      at,
		}
		entry.Action = core.ParseAction(entry.RawAction)
		if entry.ID == "" {
			entry.ID = fmt.Sprintf("row:%d", i+1)
		}
		// Direction and amount are informative on the audit trail; a
		// deleted transaction may leave them blank.
		if d, err := core.ParseDirection(safeGet(row, cDir)); err == nil {
			entry.Direction = d
		}
		if v := safeGet(row, cAmount); v != "" {
			amount, err := parseAmount(v)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
			entry.Amount = amount
		}
		out = append(out, entry)
	}
	return out, nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, ok := parseMonthNameDate(s, loc); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// parseMonthNameDate reads display-formatted cells such as "15 Mar 2026",
// "15-MAR-2026" or "15 march 2026" as midnight of that day.
func parseMonthNameDate(s string, loc *time.Location) (time.Time, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '/' || r == ','
	})
	if len(fields) != 3 {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(fields[0])
	if err != nil {
		return time.Time{}, false
	}
	month, ok := core.ParseMonthLabel(fields[1])
	if !ok {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(fields[2])
	if err != nil {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// parseAmount accepts "1234.5", "1.234,50", "1,234.50" and a leading or
// trailing euro sign. A lone comma is a decimal separator.
func parseAmount(s string) (core.Money, error) {
	s = strings.TrimSpace(strings.NewReplacer("€", "", " ", "", "\u00a0", "").Replace(s))
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Cents: cents}, nil
}

func firstIndex(headers []string, names ...string) int {
	for _, n := range names {
		if i := indexOf(headers, n); i >= 0 {
			return i
		}
	}
	return -1
}

func missingColumns(cols map[string]int) string {
	var missing []string
	for _, name := range []string{colDate, colName, colTransaction, colDirection, colAmount, colAction} {
		if idx, ok := cols[name]; ok && idx == -1 {
			missing = append(missing, name)
		}
	}
	return strings.Join(missing, ",")
}

func isBlank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		// Unformatted numeric cells arrive as float64; avoid exponent notation.
		if f, ok := v.(float64); ok {
			out[i] = strconv.FormatFloat(f, 'f', -1, 64)
			continue
		}
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
