package validation

// nhiPattern matches a 7-character NZ National Health Index identifier:
// three uppercase letters followed by four digits.
const nhiPattern = `^[A-Z]{3}\d{4}$`

// emailPattern is a deliberately permissive email shape check; this is a
// loader ingesting vendor extracts, not a mail-delivery validator.
const emailPattern = `^[^\s@]+@[^\s@]+\.[^\s@]+$`

// NHIFormat validates the column holds a well-formed NZ National Health
// Index number. Thin wrapper over Pattern.
func NHIFormat(name string) Rule {
	return Pattern(name, nhiPattern)
}

// Email validates the column holds a plausibly well-formed email address.
// Thin wrapper over Pattern.
func Email(name string) Rule {
	return Pattern(name, emailPattern)
}
