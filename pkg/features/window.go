package features

// WindowSet holds supervised samples cut from scaled feature rows. X[i] is a
// SeqLen x Features window and Y[i] the scaled target on the row right after
// it. Samples are in temporal order.
type WindowSet struct {
	X [][][]float64
	Y []float64
}

// Len returns the number of samples.
func (w WindowSet) Len() int { return len(w.Y) }

// Split cuts the set chronologically, putting the first trainFrac of samples
// in train and the rest in val.
func (w WindowSet) Split(trainFrac float64) (train, val WindowSet) {
	n := int(float64(w.Len()) * trainFrac)
	n = max(0, min(n, w.Len()))
	return WindowSet{X: w.X[:n], Y: w.Y[:n]}, WindowSet{X: w.X[n:], Y: w.Y[n:]}
}

// Windows slides a window of seqLen rows over rows. The label of each window
// is column target of the following row, giving len(rows) - seqLen samples.
func Windows(rows [][]float64, seqLen, target int) WindowSet {
	n := len(rows) - seqLen
	if n <= 0 {
		return WindowSet{}
	}
	ws := WindowSet{
		X: make([][][]float64, n),
		Y: make([]float64, n),
	}
	for i := range n {
		ws.X[i] = rows[i : i+seqLen]
		ws.Y[i] = rows[i+seqLen][target]
	}
	return ws
}
