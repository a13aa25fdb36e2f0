package oauth

// TokenResponse is the token endpoint success body per RFC 6749 §5.1.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ErrorResponse is the error body for token endpoint and API responses.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// userRegistrationRequest is the JSON body of POST /api/user/register.
type userRegistrationRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// userLoginRequest is the JSON body of POST /api/user/login.
type userLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserInfo is the public representation of a user, password hash excluded.
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// serviceUserRequest is the optional service account in a client registration.
type serviceUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// clientRegistrationRequest is the JSON body of POST /api/client/register.
type clientRegistrationRequest struct {
	Name        string              `json:"name"`
	RedirectURI string              `json:"redirectUri"`
	Grants      []string            `json:"grants"`
	User        *serviceUserRequest `json:"user,omitempty"`
}

// userRegistrationResponse wraps the created user per the API contract.
type userRegistrationResponse struct {
	User UserInfo `json:"user"`
}

// clientRegistrationResponse wraps the created client per the API contract.
type clientRegistrationResponse struct {
	Client ClientInfo `json:"client"`
}

// messageResponse is a simple success body.
type messageResponse struct {
	Message string `json:"message"`
}

// ClientInfo is the registration response payload. Secret is the plaintext
// client secret, returned exactly once at creation; only its hash is stored.
type ClientInfo struct {
	ID          string    `json:"id"`
	Secret      string    `json:"secret"`
	Name        string    `json:"name"`
	RedirectURI string    `json:"redirectUri"`
	Grants      []string  `json:"grants"`
	User        *UserInfo `json:"user,omitempty"`
}
