package ratelimit

// Client-side budgets for gateway calls.
//
// The gateway does not publish throttle scopes; these budgets keep a single
// client well below what one interactive user could generate, while never
// delaying a poller that ticks every two seconds.
const (
	// SubmitRatePerSec - one submission every two seconds on average
	SubmitRatePerSec = 0.5

	// SubmitBurstCapacity - allows a short batch of submissions from scripts
	SubmitBurstCapacity = 5

	// StatusRatePerSec - comfortably above one poller per 2s interval
	StatusRatePerSec = 5.0

	// StatusBurstCapacity - absorbs several pollers starting at once
	StatusBurstCapacity = 20

	// DownloadRatePerSec - download requests per second (not bytes)
	DownloadRatePerSec = 4.0

	// DownloadBurstCapacity - one burst for "download everything" after completion
	DownloadBurstCapacity = 12
)
