package source

import "time"

// Progress is a point-in-time snapshot of a running download.
type Progress struct {
	Downloaded int64
	Total      int64 // -1 when the server did not send Content-Length
	Percent    float64
	Rate       float64 // bytes per second
	ETA        time.Duration
}

// ProgressFunc receives progress snapshots. It is called at a fixed
// cadence plus once at completion, never concurrently, and only as an
// observable side effect: correctness never depends on it.
type ProgressFunc func(Progress)

// progressCadence is how often the download loop emits a snapshot.
const progressCadence = 100 * time.Millisecond

// progressTracker rate-limits snapshots and computes rate and ETA from
// the elapsed wall time.
type progressTracker struct {
	fn       ProgressFunc
	total    int64
	started  time.Time
	lastEmit time.Time
}

func newProgressTracker(fn ProgressFunc, total int64) *progressTracker {
	now := time.Now()
	return &progressTracker{fn: fn, total: total, started: now, lastEmit: now.Add(-progressCadence)}
}

func (p *progressTracker) update(downloaded int64, final bool) {
	if p == nil || p.fn == nil {
		return
	}
	now := time.Now()
	if !final && now.Sub(p.lastEmit) < progressCadence {
		return
	}
	p.lastEmit = now

	snap := Progress{Downloaded: downloaded, Total: p.total}
	elapsed := now.Sub(p.started).Seconds()
	if elapsed > 0 {
		snap.Rate = float64(downloaded) / elapsed
	}
	if p.total > 0 {
		snap.Percent = float64(downloaded) * 100 / float64(p.total)
		if snap.Rate > 0 {
			remaining := float64(p.total-downloaded) / snap.Rate
			snap.ETA = time.Duration(remaining * float64(time.Second))
		}
	} else if final {
		// Chunked responses carry no Content-Length; once the body is
		// fully read the downloaded count is the total.
		snap.Total = downloaded
		snap.Percent = 100
	} else {
		snap.Total = -1
	}
	p.fn(snap)
}
