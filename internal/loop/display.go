package loop

import "time"

// Display delivers one tick per refresh. The tick value is the frame
// timestamp the scheduler plans against.
type Display interface {
	Ticks() <-chan time.Time
	Stop()
}

type tickerDisplay struct {
	t *time.Ticker
}

// NewTickerDisplay ticks at rate Hz. A non-positive rate means 60 Hz.
func NewTickerDisplay(rate float64) Display {
	if rate <= 0 {
		rate = 60
	}
	return tickerDisplay{t: time.NewTicker(time.Duration(float64(time.Second) / rate))}
}

func (d tickerDisplay) Ticks() <-chan time.Time { return d.t.C }
func (d tickerDisplay) Stop()                   { d.t.Stop() }
