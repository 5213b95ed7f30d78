package scene

// FallbackLabel names an object the detector found but could not classify
const FallbackLabel = "object"

// Label is one candidate classification for a detected object
type Label struct {
	Text       string
	Confidence float64
}

// DetectedObject is one physical object found in a captured image.
// Labels are ordered by descending confidence and may be empty.
type DetectedObject struct {
	Labels []Label
}

// TopLabel returns the highest-confidence label text, or FallbackLabel when
// the object has no usable label
func (o DetectedObject) TopLabel() string {
	if len(o.Labels) == 0 {
		return FallbackLabel
	}
	return o.Labels[0].Text
}

// DetectionResult is the detector output for exactly one capture
type DetectionResult struct {
	Objects []DetectedObject
}

// IsEmpty reports whether nothing was detected
func (r DetectionResult) IsEmpty() bool {
	return len(r.Objects) == 0
}

// LabelCount is the number of objects sharing a normalized label
type LabelCount struct {
	Label string
	Count int
}
