// Package schedule normalizes the platform's raw slot lists into the grid
// shape the front-end renders: court rows, time columns, one cell per pair.
package schedule

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"courtbot/internal/domain"
)

type Status string

const (
	StatusClosed    Status = "closed"
	StatusAvailable Status = "available"
	StatusOccupied  Status = "occupied"
)

// NormalizeStatus folds the platform's numeric slot status into the three
// states the engine acts on.
func NormalizeStatus(platformStatus int) Status {
	switch {
	case platformStatus <= 0:
		return StatusClosed
	case platformStatus == 2:
		return StatusOccupied
	default:
		return StatusAvailable
	}
}

type Cell struct {
	Price   int    `json:"price"`
	Status  Status `json:"status"`
	StockID int    `json:"stock_id"`
	FieldID int    `json:"field_id"`
}

// Grid is the normalized schedule for one venue+date. Cells is keyed
// "court|time"; a pair with no slot in the platform response appears as a
// closed cell with price -1.
type Grid struct {
	Courts []string        `json:"courts"`
	Times  []string        `json:"times"`
	Cells  map[string]Cell `json:"cells"`
}

var courtNumber = regexp.MustCompile(`(\d+)`)

// BuildGrid lays the slots out as court rows by time columns. Courts sort by
// the numeric suffix embedded in their display name ("场地2" before "场地10");
// times sort by leading hour, keeping first-appearance order on equal hours.
func BuildGrid(slots []domain.Slot) Grid {
	courts := uniqueInOrder(slots, func(s domain.Slot) string { return s.CourtName })
	sort.SliceStable(courts, func(i, j int) bool {
		return courtOrdinal(courts[i]) < courtOrdinal(courts[j])
	})
	times := uniqueInOrder(slots, func(s domain.Slot) string { return s.TimeLabel })
	sort.SliceStable(times, func(i, j int) bool {
		return leadingHour(times[i]) < leadingHour(times[j])
	})

	cells := make(map[string]Cell, len(courts)*len(times))
	for _, court := range courts {
		for _, label := range times {
			cells[court+"|"+label] = Cell{Price: -1, Status: StatusClosed, StockID: -1, FieldID: -1}
		}
	}
	for _, s := range slots {
		cells[s.CourtName+"|"+s.TimeLabel] = Cell{
			Price:   s.Price,
			Status:  NormalizeStatus(s.Status),
			StockID: s.StockID,
			FieldID: s.FieldID,
		}
	}
	return Grid{Courts: courts, Times: times, Cells: cells}
}

func uniqueInOrder(slots []domain.Slot, key func(domain.Slot) string) []string {
	seen := make(map[string]bool, len(slots))
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		k := key(s)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func courtOrdinal(name string) int {
	m := courtNumber.FindString(name)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}

func leadingHour(label string) int {
	head, _, _ := strings.Cut(label, ":")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0
	}
	return n
}
