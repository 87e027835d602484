package engine

import "math/rand/v2"

// Rand — источник случайности машины статусов. Выделен в интерфейс, чтобы
// тесты могли подставить детерминированную последовательность бросков.
type Rand interface {
	CoinFlip() bool
	IntN(n int) int
}

// SystemRand реализует Rand поверх math/rand/v2.
// Безопасен для параллельного использования.
type SystemRand struct{}

// CoinFlip возвращает результат честного броска монеты.
func (SystemRand) CoinFlip() bool {
	return rand.IntN(2) == 0
}

// IntN возвращает равномерно распределённое число из [0, n).
func (SystemRand) IntN(n int) int {
	return rand.IntN(n)
}
