package model

// Profile is the social profile verified to a sender address.
type Profile struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
	FID         int64  `json:"fid"`
}
