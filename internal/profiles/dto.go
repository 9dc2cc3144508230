package profiles

import "time"

// ProfileResponse is the outward-facing profile with usage figures.
type ProfileResponse struct {
	UserID             string    `json:"userId"`
	SubscriptionStatus Status    `json:"subscriptionStatus"`
	SubscriptionPlan   Plan      `json:"subscriptionPlan"`
	UploadCount        int       `json:"uploadCount"`
	DocumentCount      int       `json:"documentCount"`
	FreeLimit          int       `json:"freeLimit"`
	Remaining          *int      `json:"remaining"`
	CanUpload          bool      `json:"canUpload"`
	HasCustomer        bool      `json:"hasCustomer"`
	UpdatedAt          time.Time `json:"updatedAt"`
}
