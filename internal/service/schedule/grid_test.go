package schedule

import (
	"testing"

	"courtbot/internal/domain"
)

func slot(court, label string, fieldID, stockID, status, price int) domain.Slot {
	return domain.Slot{
		FieldID: fieldID, CourtName: court, Status: status,
		StockID: stockID, Date: "2026-09-01", TimeLabel: label, Price: price,
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[int]Status{
		-1: StatusClosed,
		0:  StatusClosed,
		1:  StatusAvailable,
		2:  StatusOccupied,
		3:  StatusAvailable,
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Fatalf("status %d: expected %s, got %s", in, want, got)
		}
	}
}

func TestBuildGrid_CourtOrderByNumericSuffix(t *testing.T) {
	slots := []domain.Slot{
		slot("场地10", "9:00-10:00", 1, 10, 2, 30),
		slot("场地2", "9:00-10:00", 2, 11, 2, 30),
		slot("场地1", "9:00-10:00", 3, 12, 2, 30),
	}
	grid := BuildGrid(slots)
	want := []string{"场地1", "场地2", "场地10"}
	for i, court := range want {
		if grid.Courts[i] != court {
			t.Fatalf("expected court order %v, got %v", want, grid.Courts)
		}
	}
}

func TestBuildGrid_TimeOrderByLeadingHour(t *testing.T) {
	slots := []domain.Slot{
		slot("场地1", "14:00-15:00", 1, 10, 2, 30),
		slot("场地1", "9:00-10:00", 1, 11, 2, 30),
		slot("场地1", "21:00-22:00", 1, 12, 2, 30),
	}
	grid := BuildGrid(slots)
	want := []string{"9:00-10:00", "14:00-15:00", "21:00-22:00"}
	for i, label := range want {
		if grid.Times[i] != label {
			t.Fatalf("expected time order %v, got %v", want, grid.Times)
		}
	}
}

func TestBuildGrid_TieKeepsFirstAppearanceOrder(t *testing.T) {
	slots := []domain.Slot{
		slot("场地1", "9:30-10:30", 1, 10, 2, 30),
		slot("场地1", "9:00-10:00", 1, 11, 2, 30),
	}
	grid := BuildGrid(slots)
	if grid.Times[0] != "9:30-10:30" || grid.Times[1] != "9:00-10:00" {
		t.Fatalf("expected tie to keep first appearance, got %v", grid.Times)
	}
}

// The end-to-end normalization scenario: 3 courts x 2 times with exactly one
// open cell.
func TestBuildGrid_SingleAvailableCell(t *testing.T) {
	slots := []domain.Slot{
		slot("场地1", "9:00-10:00", 40, 550, 2, 30),
		slot("场地1", "10:00-11:00", 40, 551, 2, 30),
		slot("场地2", "9:00-10:00", 42, 555, 1, 30),
		slot("场地2", "10:00-11:00", 42, 556, 2, 30),
		slot("场地3", "9:00-10:00", 44, 560, 2, 30),
		// 场地3 10:00 absent from the platform response entirely.
	}
	grid := BuildGrid(slots)
	if len(grid.Courts) != 3 || len(grid.Times) != 2 {
		t.Fatalf("expected 3x2 grid, got %dx%d", len(grid.Courts), len(grid.Times))
	}

	open := grid.Cells["场地2|9:00-10:00"]
	if open.Status != StatusAvailable || open.Price != 30 || open.StockID != 555 || open.FieldID != 42 {
		t.Fatalf("unexpected open cell %+v", open)
	}

	absent := grid.Cells["场地3|10:00-11:00"]
	if absent.Status != StatusClosed || absent.Price != -1 {
		t.Fatalf("expected absent cell closed with price -1, got %+v", absent)
	}

	available := 0
	for _, cell := range grid.Cells {
		if cell.Status == StatusAvailable {
			available++
		}
	}
	if available != 1 {
		t.Fatalf("expected exactly one available cell, got %d", available)
	}
}
