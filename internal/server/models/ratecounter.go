package models

import "time"

// RatePolicy is one independently configured fixed-window limit.
type RatePolicy struct {
	Name    string
	Ceiling int
	Window  time.Duration
}

// BucketKey namespaces subject by the policy name so two policies never share
// a bucket.
func (p RatePolicy) BucketKey(subject string) string {
	return p.Name + ":" + subject
}

// RateCounter is the persisted state of one bucket.
type RateCounter struct {
	BucketKey   string
	WindowStart time.Time
	Count       int
}

// RetryAfter is the time left until the counter's window resets.
func (c *RateCounter) RetryAfter(now time.Time, window time.Duration) time.Duration {
	d := c.WindowStart.Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RateDecision is the result of a rate-limit check.
type RateDecision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}
