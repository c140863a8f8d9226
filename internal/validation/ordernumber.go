// Package validation содержит проверки входных данных сервиса craftmarket.
package validation

// Формат номера заказа: 14 цифр метки времени, дефис, 8 символов суффикса.
// Пример: 20260829153000-9F3A61BC
const (
	prefixLen = 14
	suffixLen = 8
	numberLen = prefixLen + 1 + suffixLen
)

// IsValidOrderNumber проверяет формат номера заказа.
func IsValidOrderNumber(number string) bool {
	if len(number) != numberLen {
		return false
	}

	for i := 0; i < prefixLen; i++ {
		if number[i] < '0' || number[i] > '9' {
			return false
		}
	}

	if number[prefixLen] != '-' {
		return false
	}

	for i := prefixLen + 1; i < numberLen; i++ {
		c := number[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}

	return true
}
