package transport

// TempoMap converts between sample frames and musical beats. It is
// immutable once published; a new tempo is a brand new TempoMap, never
// a mutation of an existing one.
//
// This is a constant-tempo map: the original Rust implementation
// (original_source/src/transport/tempo_map.rs) supports tempo
// automation curves, but sample-accurate tempo automation is out of
// scope here, so one BPM for the whole timeline is sufficient.
type TempoMap struct {
	SampleRate         float64
	BPM                float64
	TimeSignatureNum   uint16
	TimeSignatureDenom uint16
}

// NewTempoMap creates a constant-tempo map.
func NewTempoMap(sampleRate, bpm float64, tsigNum, tsigDenom uint16) *TempoMap {
	if tsigNum == 0 {
		tsigNum = 4
	}
	if tsigDenom == 0 {
		tsigDenom = 4
	}
	return &TempoMap{SampleRate: sampleRate, BPM: bpm, TimeSignatureNum: tsigNum, TimeSignatureDenom: tsigDenom}
}

func (t *TempoMap) framesPerBeat() float64 {
	return (60.0 / t.BPM) * t.SampleRate
}

// FrameToBeats converts an absolute frame position to beats.
func (t *TempoMap) FrameToBeats(frame int64) float64 {
	return float64(frame) / t.framesPerBeat()
}

// FrameToSeconds converts an absolute frame position to seconds.
func (t *TempoMap) FrameToSeconds(frame int64) float64 {
	return float64(frame) / t.SampleRate
}

// BeatsToNearestFrame rounds a beat position to the nearest frame.
func (t *TempoMap) BeatsToNearestFrame(beats float64) int64 {
	fpb := t.framesPerBeat()
	return int64(beats*fpb + 0.5)
}

// TempoIncrement returns the per-sample tempo delta; constant for a
// fixed-tempo map.
func (t *TempoMap) TempoIncrement() float64 { return 0 }

// BarAt returns the bar number and the beat position of that bar's
// start, for the given frame.
func (t *TempoMap) BarAt(frame int64) (barNumber int32, barStartBeats float64) {
	beats := t.FrameToBeats(frame)
	beatsPerBar := float64(t.TimeSignatureNum) * (4.0 / float64(t.TimeSignatureDenom))
	bar := int32(beats / beatsPerBar)
	return bar, float64(bar) * beatsPerBar
}
