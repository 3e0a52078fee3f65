// Package waveform computes local previews of the generator output.
//
// A preview is one period of the waveform described by Params, sampled at
// evenly spaced instants. It is computed from the parameters alone and never
// touches an instrument, so it can run on any goroutine without the bus
// gate.
//
//	samples, err := waveform.PreviewPeriod(waveform.Params{
//	    Shape:       waveform.Square,
//	    FrequencyHz: 1000,
//	    HighV:       1.0,
//	    LowV:        0.0,
//	    DutyPercent: 50,
//	}, 500)
package waveform
