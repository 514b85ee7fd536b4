package notification

import "time"

// Intent identifies why a notification is sent. One record may exist
// per (recipient, intent) pair; once sent it is never resent.
type Intent string

const (
	IntentDaoInvite          Intent = "dao_invite"
	IntentOnboardingFinished Intent = "onboarding_finished"
	IntentOnboardingRename   Intent = "onboarding_rename"
	IntentWelcomeHighDemand  Intent = "welcome_high_demand"
)

type Record struct {
	ID        int64      `json:"id"`
	Recipient string     `json:"recipient"`
	Intent    Intent     `json:"intent"`
	Subject   string     `json:"subject"`
	Content   string     `json:"content"`
	HTML      string     `json:"html"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at"`
}

func (r *Record) Sent() bool { return r.SentAt != nil }
