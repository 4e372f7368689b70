package entity

// Credentials are the opaque secrets of one credential reference
// (username/password pair, account identifiers, base URLs).
type Credentials map[string]string

func (c Credentials) Username() string  { return c["username"] }
func (c Credentials) Password() string  { return c["password"] }
func (c Credentials) AccountID() string { return c["account_id"] }
func (c Credentials) BaseURL() string   { return c["base_url"] }
