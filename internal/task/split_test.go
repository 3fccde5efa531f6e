package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frames(specs []Spec) [][2]int {
	out := make([][2]int, 0, len(specs))
	for _, s := range specs {
		out = append(out, [2]int{*s.StartFrame, *s.EndFrame})
	}
	return out
}

func rangeSpec(start, end int) Spec {
	return Spec{
		BlendFile:       "//a/blend_files/a.blend",
		OutputDirectory: "//a/renders/a/image_sequences/latest",
		Params:          Params{StartFrame: Int(start), EndFrame: Int(end)},
	}
}

func TestSplit(t *testing.T) {
	testCases := []struct {
		name     string
		start    int
		end      int
		n        int
		expected [][2]int
	}{
		{name: "one frame per worker", start: 1, end: 3, n: 3, expected: [][2]int{{1, 1}, {2, 2}, {3, 3}}},
		{name: "last segment absorbs remainder", start: 1, end: 4, n: 3, expected: [][2]int{{1, 1}, {2, 2}, {3, 4}}},
		{name: "single worker", start: 0, end: 10, n: 1, expected: [][2]int{{0, 10}}},
		{name: "even split", start: 1, end: 100, n: 4, expected: [][2]int{{1, 25}, {26, 50}, {51, 75}, {76, 100}}},
		{name: "more workers than frames", start: 5, end: 6, n: 4, expected: [][2]int{{5, 5}, {6, 6}}},
		{name: "single frame", start: 7, end: 7, n: 3, expected: [][2]int{{7, 7}}},
		{name: "rounding leaves trailing workers idle", start: 0, end: 5, n: 4, expected: [][2]int{{0, 1}, {2, 3}, {4, 5}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pieces := Split(rangeSpec(tc.start, tc.end), tc.n)
			assert.Equal(t, tc.expected, frames(pieces))
		})
	}
}

func TestSplit_CoversRangeWithoutGaps(t *testing.T) {
	for n := 1; n <= 12; n++ {
		for end := 0; end <= 40; end++ {
			pieces := Split(rangeSpec(0, end), n)
			require.LessOrEqual(t, len(pieces), n)
			next := 0
			for _, p := range pieces {
				require.Equal(t, next, *p.StartFrame, "gap or overlap for n=%d end=%d", n, end)
				require.LessOrEqual(t, *p.StartFrame, *p.EndFrame)
				next = *p.EndFrame + 1
			}
			require.Equal(t, end+1, next, "range not fully covered for n=%d end=%d", n, end)
		}
	}
}

func TestSplit_SegmentsAndIsolation(t *testing.T) {
	original := rangeSpec(1, 3)
	pieces := Split(original, 3)
	require.Len(t, pieces, 3)

	for i, p := range pieces {
		require.NotNil(t, p.Segment)
		assert.Equal(t, Segment{Index: i, Count: 3}, *p.Segment)
		assert.Equal(t, original.Key(), p.Key())
	}

	*pieces[0].StartFrame = 99
	assert.Equal(t, 1, *original.StartFrame, "pieces must not alias the original frame pointers")
}

func TestSplit_WithoutFrameRange(t *testing.T) {
	spec := Spec{BlendFile: "//a/blend_files/a.blend", OutputDirectory: "//a/out"}
	pieces := Split(spec, 4)
	require.Len(t, pieces, 1)
	assert.Equal(t, spec, pieces[0])
}
