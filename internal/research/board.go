package research

import (
	"fmt"

	"github.com/kapu/guest-research-go/internal/domain"
)

// Row is one stage line on the board.
type Row struct {
	Stage   domain.Stage
	Status  domain.StageStatus
	Message string
}

// Board is the consumer-side view of a run: one row per stage, updated in
// place. Sentinel stages only change the title.
type Board struct {
	subject string
	title   string
	rows    []Row
	index   map[domain.Stage]int
}

func NewBoard(subject string) *Board {
	return &Board{
		subject: subject,
		index:   make(map[domain.Stage]int),
	}
}

func (b *Board) Apply(ev domain.ProgressEvent) {
	switch ev.Stage {
	case domain.StageStart:
		b.title = fmt.Sprintf("Researching %s", b.subject)
		return
	case domain.StageComplete:
		b.title = "Research complete"
		return
	}

	row := Row{Stage: ev.Stage, Status: ev.Status, Message: ev.Message}
	if i, ok := b.index[ev.Stage]; ok {
		b.rows[i] = row
		return
	}
	b.index[ev.Stage] = len(b.rows)
	b.rows = append(b.rows, row)
}

func (b *Board) Title() string {
	return b.title
}

// Rows returns the rows in first-seen order.
func (b *Board) Rows() []Row {
	return append([]Row(nil), b.rows...)
}
