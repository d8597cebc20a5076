package domain

// TokenGrant is the normalized result of a token-endpoint exchange,
// for either grant type.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	Scopes       []string
}
