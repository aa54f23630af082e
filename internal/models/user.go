package models

// User owns bots and broker credentials. Identity is opaque to the engine.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// BrokerCredentials holds the per-user API key/secret pair and the
// environment URL that drives a Broker Adapter instance for that user.
// Encryption-at-rest is a storage-layer concern and out of scope here.
type BrokerCredentials struct {
	UserID   string `json:"user_id"`
	APIKey   string `json:"api_key"`
	Secret   string `json:"secret"`
	BaseURL  string `json:"base_url"`
	Sandbox  bool   `json:"sandbox"`
}
