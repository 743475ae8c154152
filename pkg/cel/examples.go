package cel

// RuleExpressionExamples lists compliance expressions. Each must hold for a
// message to be compliant.
var RuleExpressionExamples = map[string]string{
	"no_ssn":             `!has(payload.ssn)`,
	"amount_ceiling":     `!has(payload.amount) || double(payload.amount) <= 1000000.0`,
	"currency_whitelist": `!has(payload.currency) || payload.currency in ["USD", "EUR", "GBP"]`,
	"user_bound_events":  `!eventType.startsWith("user.") || userId != ""`,
	"encrypted_identity": `topic != "identity-verification-data" || encrypted`,
	"known_source":       `source != ""`,
	"nested_country":     `!has(payload.address) || payload.address.country != "XX"`,
	"email_domain":       `!has(payload.email) || payload.email.endsWith("@example.com")`,
}
