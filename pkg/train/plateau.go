package train

// plateau lowers a learning rate when a monitored loss stops improving by a
// relative threshold for more than patience consecutive epochs.
type plateau struct {
	factor    float64
	patience  int
	threshold float64
	minLR     float64

	best float64
	bad  int
	init bool
}

// step records loss and returns the learning rate to use next.
func (p *plateau) step(loss, lr float64) float64 {
	if !p.init || loss < p.best*(1-p.threshold) {
		p.best = loss
		p.bad = 0
		p.init = true
		return lr
	}

	p.bad++
	if p.bad <= p.patience {
		return lr
	}
	p.bad = 0
	next := max(lr*p.factor, p.minLR)
	if lr-next <= 1e-8 {
		return lr
	}
	return next
}
