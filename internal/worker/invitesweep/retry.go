package invitesweep

import "time"

const (
	// initialBackoff は指数バックオフの初回遅延（1分）。
	initialBackoff = 1 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（1時間）。
	maxBackoff = 1 * time.Hour
)

// CalculateBackoff は連続失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回1分、2倍ずつ増加、最大1時間。
func CalculateBackoff(consecutiveFailures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
