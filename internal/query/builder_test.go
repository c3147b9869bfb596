package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Initial(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	res, err := Build(Params{Initial: true, MonthsBack: 12, Now: now})
	require.NoError(t, err)

	assert.Contains(t, res.Filter, "after:2025/07/31")
	assert.Contains(t, res.Filter, "-in:spam -in:trash")
	assert.Contains(t, res.Filter, `subject:"payment received"`)
	assert.Contains(t, res.Filter, "from:billing")
	assert.Len(t, res.Fingerprint, 16)
}

func TestBuild_Incremental_RequiresLastSync(t *testing.T) {
	_, err := Build(Params{Initial: false, Now: time.Now()})
	assert.ErrorIs(t, err, ErrMissingLastSync)
}

func TestBuild_Incremental_UsesLastSync(t *testing.T) {
	lastSync := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	res, err := Build(Params{Initial: false, LastSync: lastSync, Now: time.Now()})
	require.NoError(t, err)
	assert.Contains(t, res.Filter, "after:2026/06/01")
}

func TestFingerprint_Drift(t *testing.T) {
	a := Fingerprint("subject:billing after:2026/01/01")
	b := Fingerprint("subject:billing2 after:2026/01/01")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Fingerprint("subject:billing after:2026/01/01"))
}
