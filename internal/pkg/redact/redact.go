package redact

// Username маскирует имя пользователя для логов: первые две руны + "***".
// Короткие имена (≤2 рун) маскируются целиком.
func Username(s string) string {
	runes := []rune(s)
	if len(runes) > 2 {
		return string(runes[:2]) + "***"
	}

	return "***"
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }
