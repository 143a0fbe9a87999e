package indicator

// saturatedRS replaces avgGain/avgLoss once smoothing has started and the
// average loss is zero. RSI therefore tops out near 99.0099 rather than 100
// on a one-way market. The seed value is not affected.
const saturatedRS = 100.0

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Update is O(1) per candle with no history scans.
type RSI struct {
	period    int
	count     int
	prevClose float64
	gain      *SMMA
	loss      *SMMA
	current   float64
	defined   bool
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{
		period: period,
		gain:   NewSMMA(period),
		loss:   NewSMMA(period),
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First candle: record price, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gain.Update(gain)
	r.loss.Update(loss)

	if !r.gain.Ready() {
		return
	}

	avgGain, avgLoss := r.gain.Value(), r.loss.Value()
	if r.count == r.period+1 {
		// Seed point: no smoothing yet.
		switch {
		case avgLoss > 0:
			r.setRS(avgGain / avgLoss)
		case avgGain > 0:
			r.current, r.defined = 100.0, true
		default:
			r.current, r.defined = 0, false
		}
		return
	}

	if avgLoss == 0 {
		r.setRS(saturatedRS)
		return
	}
	r.setRS(avgGain / avgLoss)
}

func (r *RSI) setRS(rs float64) {
	r.current = 100.0 - (100.0 / (1.0 + rs))
	r.defined = true
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period && r.defined }

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.count = 0
	r.prevClose = 0
	r.current = 0
	r.defined = false
	r.gain.Reset()
	r.loss.Reset()
}
