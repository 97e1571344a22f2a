package domain

import "time"

// Recipient is a delivery target known to the recipient directory: a push
// token plus the UTC offset recorded for the user's device.
type Recipient struct {
	ID              string    `json:"id"`
	DeviceToken     string    `json:"device_token,omitempty"`
	TZOffsetMinutes int       `json:"tz_offset_minutes"`
	SignedUpAt      time.Time `json:"signed_up_at"`
}

// HasToken reports whether the recipient currently has a delivery token.
func (r Recipient) HasToken() bool {
	return r.DeviceToken != ""
}
