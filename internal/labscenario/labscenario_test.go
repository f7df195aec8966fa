package labscenario

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltInScenariosAllPass(t *testing.T) {
	results := RunAll(context.Background(), BuiltIn())
	require.Len(t, results, 6)
	for _, r := range results {
		require.Truef(t, r.Passed, "scenario %s failed: %s", r.Name, r.Detail)
	}
	require.False(t, AnyFailed(results))
}

func TestSummarizeReportsFailures(t *testing.T) {
	results := []Result{
		{Name: "ok", Passed: true},
		{Name: "broken", Passed: false, Detail: "something went wrong"},
	}
	out := Summarize(results)
	require.Contains(t, out, "[PASS] ok")
	require.Contains(t, out, "[FAIL] broken")
	require.Contains(t, out, "something went wrong")
	require.Contains(t, out, "1/2 scenarios passed")
	require.True(t, AnyFailed(results))
}
