package capture

// Segment is one transcription fragment within a result event. Interim
// segments are provisional and may still change; final segments are
// authoritative and will not be re-reported with different text.
type Segment struct {
	// Text is the transcribed fragment.
	Text string

	// Final indicates whether this segment is finalized (authoritative)
	// or interim (provisional).
	Final bool
}

// ResultEvent is a single recognition result delivered by a capture session.
// Recognizers report results from a given start index onward, so consecutive
// events may cover overlapping index ranges; consumers must dedupe by
// absolute segment index.
type ResultEvent struct {
	// Index is the absolute index of the first segment in Segments.
	Index int

	// Segments are the result fragments starting at Index. Zero or more
	// may be final; at most the trailing ones are interim.
	Segments []Segment
}

// HasInterim reports whether the event carries any non-final segment.
func (e ResultEvent) HasInterim() bool {
	for _, s := range e.Segments {
		if !s.Final {
			return true
		}
	}
	return false
}
