package model

// BotRequest creates or updates a bot. Empty fields keep their current value
// on update.
type BotRequest struct {
	Username    string `json:"username"`
	BotRole     string `json:"botRole"`
	BotType     string `json:"botType"`
	Bio         string `json:"bio"`
	ProfilePic  string `json:"profilePic"`
	Personality string `json:"botPersonality"`
}

// UpdateProfileRequest changes the caller's own profile.
type UpdateProfileRequest struct {
	Username string `json:"username"`
	Bio      string `json:"bio"`
}

// Page is one page of a listing.
type Page struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	Total       int `json:"total"`
}

// ListUsersResponse is a page of users.
type ListUsersResponse struct {
	Users []*User `json:"users"`
	Page
}

// ListBotsResponse is a page of bots.
type ListBotsResponse struct {
	Bots []*Bot `json:"bots"`
	Page
}
