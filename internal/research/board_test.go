package research

import (
	"testing"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoardAppendOrUpdate(t *testing.T) {
	b := NewBoard("Jane Doe")

	b.Apply(domain.ProgressEvent{Stage: domain.StageStart, Status: domain.StatusActive})
	assert.Equal(t, "Researching Jane Doe", b.Title())
	assert.Empty(t, b.Rows())

	b.Apply(domain.ProgressEvent{Stage: domain.StageNameCheck, Status: domain.StatusActive, Message: "checking"})
	b.Apply(domain.ProgressEvent{Stage: domain.StageMediaSearch, Status: domain.StatusActive, Message: "query 1"})
	b.Apply(domain.ProgressEvent{Stage: domain.StageMediaSearch, Status: domain.StatusActive, Message: "query 2"})
	b.Apply(domain.ProgressEvent{Stage: domain.StageNameCheck, Status: domain.StatusDone, Message: "ok"})
	b.Apply(domain.ProgressEvent{Stage: domain.StageComplete, Status: domain.StatusDone})

	rows := b.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, Row{Stage: domain.StageNameCheck, Status: domain.StatusDone, Message: "ok"}, rows[0])
	assert.Equal(t, "query 2", rows[1].Message)
	assert.Equal(t, "Research complete", b.Title())
}
