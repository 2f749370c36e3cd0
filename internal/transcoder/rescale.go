package transcoder

import "math"

// mpegtsTimebaseDen is the MPEG-TS PTS/DTS clock (1/90000).
const mpegtsTimebaseDen = 90000

// RescaleTimebase converts q from timebase numIn/denIn to numOut/denOut
// using integer rescale: q' = round(q · numIn · denOut / (denIn · numOut)).
func RescaleTimebase(q int64, numIn, denIn, numOut, denOut int) int64 {
	if numIn == numOut && denIn == denOut {
		return q
	}
	return int64(math.Round(float64(q) * float64(numIn) * float64(denOut) / (float64(denIn) * float64(numOut))))
}

// ToMPEGTSTimebase rescales q from numIn/denIn to the muxer's 1/90000 clock.
func ToMPEGTSTimebase(q int64, numIn, denIn int) int64 {
	return RescaleTimebase(q, numIn, denIn, 1, mpegtsTimebaseDen)
}
