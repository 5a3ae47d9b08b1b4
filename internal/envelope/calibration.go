package envelope

// defaultCalibrationFrames is roughly 300 ms at a 40 Hz analysis rate, long
// enough to catch the first stressed syllable of almost any utterance.
const defaultCalibrationFrames = 12

// calibrator accumulates loudness samples from the start of an utterance
// until it has enough to characterise the voice.
type calibrator struct {
	need    int
	samples []float64
}

func (c *calibrator) reset(need int) {
	c.need = need
	c.samples = c.samples[:0]
}

// add records one dB sample and reports whether the target count was just
// reached.
func (c *calibrator) add(db float64) (done bool) {
	if len(c.samples) >= c.need {
		return false
	}
	c.samples = append(c.samples, db)
	return len(c.samples) == c.need
}

// result returns the peak and mean of the collected samples.
func (c *calibrator) result() (peakDb, avgDb float64) {
	if len(c.samples) == 0 {
		return silenceFloorDb, silenceFloorDb
	}
	peakDb = c.samples[0]
	var sum float64
	for _, s := range c.samples {
		if s > peakDb {
			peakDb = s
		}
		sum += s
	}
	return peakDb, sum / float64(len(c.samples))
}
