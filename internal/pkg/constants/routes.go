package constants

// Static route constants
const (
	HealthRoute         = "/health"
	StatsRoute          = "/stats"
	BankIDCallbackRoute = "/verify/bankid/callback"
	// Pairing path without the token parameter for URL construction
	PairingPathPrefix = "/verify/pair"
)
