package research

import (
	"testing"
	"time"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyTable(t *testing.T) {
	free := PolicyFor(domain.ModeFree)
	pro := PolicyFor(domain.ModePro)

	assert.Len(t, free.QueryTemplates, 10)
	assert.Len(t, pro.QueryTemplates, 20)
	assert.Equal(t, free.QueryTemplates, pro.QueryTemplates[:10])

	assert.Equal(t, 40, free.MaxTotalVideos)
	assert.Equal(t, 0, pro.MaxTotalVideos)
	assert.Less(t, free.MaxResultsPerQuery, pro.MaxResultsPerQuery)

	assert.Equal(t, 15, free.ModelWatchCap)
	assert.Equal(t, 0, pro.ModelWatchCap)
	assert.Equal(t, 1, free.ModelWatchBatchSize)
	assert.Equal(t, 3, pro.ModelWatchBatchSize)
	assert.Equal(t, 3, free.FailureThreshold)
	assert.Equal(t, 5, pro.FailureThreshold)
	assert.Equal(t, 30*time.Second, free.ModelWatchTimeout)
	assert.Greater(t, free.ModelWatchDelay, pro.ModelWatchDelay)
}

func TestUnknownModeIsFree(t *testing.T) {
	assert.Equal(t, domain.ModeFree, PolicyFor(domain.Mode("enterprise")).Mode)
	assert.Equal(t, domain.ModeFree, domain.ParseMode("whatever"))
	assert.Equal(t, domain.ModePro, domain.ParseMode(" PRO "))
}

func TestSearchOptionsQuotaLimit(t *testing.T) {
	free := PolicyFor(domain.ModeFree).SearchOptions("Jane Doe")
	require.Len(t, free.Queries, 10)
	assert.Equal(t, 3, free.QuotaErrorLimit)
	assert.Contains(t, free.Queries[0], `"Jane Doe"`)

	pro := PolicyFor(domain.ModePro).SearchOptions("Jane Doe")
	assert.Equal(t, len(pro.Queries), pro.QuotaErrorLimit)
}
