package cache

import "fmt"

func JobStatusKey(jobID string) string {
	return fmt.Sprintf("asr:job:%s", jobID)
}

// JobOwnerKey holds the ID of the tenant that submitted a job.
func JobOwnerKey(jobID string) string {
	return fmt.Sprintf("asr:job:%s:owner", jobID)
}

// RateLimitKey counts requests of one bucket ("key", "tenant", "submit")
// for subject during the fixed window starting at windowStart (unix seconds).
func RateLimitKey(bucket, subject string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", bucket, subject, windowStart)
}

// SharedAudioKey holds the bytes of an uploaded audio file.
func SharedAudioKey(token string) string {
	return fmt.Sprintf("share:audio:%s", token)
}

// SharedMetaKey holds the JSON metadata of an uploaded audio file.
func SharedMetaKey(token string) string {
	return fmt.Sprintf("share:meta:%s", token)
}
