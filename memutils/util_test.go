package memutils

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(1, "value"))
	require.NoError(t, CheckPow2(2, "value"))
	require.NoError(t, CheckPow2(4096, "value"))

	err := CheckPow2(48, "value")
	require.True(t, errors.Is(err, PowerOfTwoError))
}

func TestCheckAligned(t *testing.T) {
	require.NoError(t, CheckAligned(0, 16, "offset"))
	require.NoError(t, CheckAligned(64, 16, "offset"))

	err := CheckAligned(24, 16, "offset")
	require.True(t, errors.Is(err, AlignmentError))
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, AlignUp(0, 16))
	require.Equal(t, 16, AlignUp(1, 16))
	require.Equal(t, 16, AlignUp(16, 16))
	require.Equal(t, 32, AlignUp(17, 16))
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 0, AlignDown(15, 16))
	require.Equal(t, 16, AlignDown(16, 16))
	require.Equal(t, 16, AlignDown(31, 16))
}

func TestDetailedStatistics(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()

	stats.AddAllocation(32)
	stats.AddAllocation(128)
	stats.AddFreeRange(64)

	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 160, stats.AllocationBytes)
	require.Equal(t, 32, stats.AllocationSizeMin)
	require.Equal(t, 128, stats.AllocationSizeMax)
	require.Equal(t, 1, stats.FreeRangeCount)
	require.Equal(t, 64, stats.FreeRangeSizeMin)
	require.Equal(t, 64, stats.FreeRangeSizeMax)

	var sum DetailedStatistics
	sum.Clear()
	sum.AddDetailedStatistics(&stats)
	sum.AddDetailedStatistics(&stats)

	require.Equal(t, 4, sum.AllocationCount)
	require.Equal(t, 320, sum.AllocationBytes)
	require.Equal(t, 32, sum.AllocationSizeMin)
	require.Equal(t, 128, sum.AllocationSizeMax)
	require.Equal(t, 2, sum.FreeRangeCount)
}
