package task

// Split partitions a task carrying a frame range into at most n contiguous
// segments that exactly cover [start, end]. Tasks without a frame range, and
// requests for fewer than two pieces, come back unchanged as a single task.
//
// The segment size is ceil((end-start)/n); every segment but the last ends at
// start+size-1 and the last one is stretched to end. When the rounding leaves
// no frames for the trailing pieces, fewer than n segments are returned.
func Split(spec Spec, n int) []Spec {
	if !spec.HasFrameRange() || n < 2 {
		return []Spec{spec}
	}
	start, end := *spec.StartFrame, *spec.EndFrame
	if frames := end - start + 1; frames < n {
		n = frames
	}
	if n < 2 {
		return []Spec{spec}
	}

	size := (end - start + n - 1) / n
	if size < 1 {
		size = 1
	}

	out := make([]Spec, 0, n)
	for i := 0; i < n; i++ {
		segStart := start + i*size
		segEnd := segStart + size - 1
		last := i == n-1 || segEnd >= end
		if last {
			segEnd = end
		}
		piece := spec.Clone()
		piece.StartFrame = Int(segStart)
		piece.EndFrame = Int(segEnd)
		out = append(out, piece)
		if last {
			break
		}
	}
	for i := range out {
		out[i].Segment = &Segment{Index: i, Count: len(out)}
	}
	return out
}
