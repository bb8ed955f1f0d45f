package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/pscheid92/tablepulse/internal/schedule"
)

const emptyCell = "."

// renderSchedule prints the grid with one row per slot and one column per table.
func renderSchedule(w io.Writer, s domain.Schedule) error {
	grid, err := newGrid(s)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{s.Date}
	for _, t := range grid.Tables() {
		header = append(header, fmt.Sprintf("%s[%d-%d]", t.Name, t.MinCapacity, t.MaxCapacity))
	}
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))

	layout := grid.Layout()
	for slot := range layout.Slots {
		row := []string{layout.Label(slot)}
		for _, t := range grid.Tables() {
			row = append(row, cellLabel(grid, schedule.Cell{TableID: t.ID, Slot: slot}))
		}
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write grid: %w", err)
	}
	return nil
}

func cellLabel(g *schedule.Grid, c schedule.Cell) string {
	id, ok := g.At(c)
	if !ok {
		return emptyCell
	}
	r, _ := g.Reservation(id)
	if r.StartSlot != c.Slot {
		return "|"
	}
	return fmt.Sprintf("%s(%d)", guestOf(r), r.PartySize)
}
