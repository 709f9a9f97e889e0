package transport

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type MediaRequestSubmission struct {
	Title     string `json:"title"`
	MediaType string `json:"media_type"`
	Note      string `json:"note"`
}
