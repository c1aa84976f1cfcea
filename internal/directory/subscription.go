package directory

// FilterSubscribed narrows candidates to recipients that can actually be
// mailed: currently subscribed and with a non-empty address. Every broadcast
// must pass through this gate before dispatch; test mode substitutes the
// target list afterwards but never skips the gate.
func FilterSubscribed(recipients []Recipient) []Recipient {
	subscribed := []Recipient{}
	for _, r := range recipients {
		if r.EmailSubscribed && r.Email != "" {
			subscribed = append(subscribed, r)
		}
	}
	return subscribed
}
