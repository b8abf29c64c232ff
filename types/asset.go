package types

// Asset is a protected media asset a token can be requested for.
type Asset struct {
	ID               string       `json:"id" dynamodbav:"id"`
	EndpointHostname string       `json:"endpoint_hostname,omitempty" dynamodbav:"endpoint_hostname,omitempty"`
	UrlPath          string       `json:"url_path,omitempty" dynamodbav:"url_path,omitempty"`
	TokenPolicy      *TokenPolicy `json:"token_policy" dynamodbav:"token_policy"`
}

// PlaybackURL returns the origin playback url or empty when the asset only issues bare tokens.
func (a *Asset) PlaybackURL() string {
	if a.EndpointHostname == "" || a.UrlPath == "" {
		return ""
	}
	return a.EndpointHostname + a.UrlPath
}
