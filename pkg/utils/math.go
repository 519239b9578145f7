package utils

import (
	"math"
)

// math.go - математические утилиты для анализа рядов доходностей
//
// Назначение:
// Вспомогательные статистические функции для lead-lag анализа и
// расчёта баров. Все функции являются чистыми (pure functions)
// без побочных эффектов.
//
// Функции:
// - LogReturn: логарифмическая доходность между двумя ценами
// - Mean: среднее арифметическое
// - SampleStd: выборочное стандартное отклонение
// - Pearson: коэффициент корреляции Пирсона

// LogReturn вычисляет логарифмическую доходность между двумя ценами.
//
// Формула:
//
//	r = ln(current / previous)
//
// Параметры:
//   - current: текущая цена
//   - previous: предыдущая цена (цена на прошлом баре)
//
// Возвращает:
//   - Логарифмическую доходность
//   - 0 если любая из цен не положительна (первый бар серии)
//
// Примеры:
//   - LogReturn(101, 100) = ln(1.01) ≈ 0.00995
//   - LogReturn(99, 101) = ln(0.9802) ≈ -0.01990
//   - LogReturn(100, 0) = 0
func LogReturn(current, previous float64) float64 {
	if current <= 0 || previous <= 0 {
		return 0
	}
	return math.Log(current / previous)
}

// Mean вычисляет среднее арифметическое.
//
// Возвращает 0 для пустого слайса.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// SampleStd вычисляет выборочное стандартное отклонение (делитель n-1).
//
// Параметры:
//   - xs: выборка значений
//
// Возвращает:
//   - Стандартное отклонение
//   - 0 если в выборке меньше двух элементов
func SampleStd(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mean := Mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// Pearson вычисляет коэффициент корреляции Пирсона двух рядов.
//
// Формула:
//
//	r = Σ((x_i - x̄)(y_i - ȳ)) / sqrt(Σ(x_i - x̄)² × Σ(y_i - ȳ)²)
//
// Параметры:
//   - xs, ys: ряды одинаковой длины
//
// Возвращает:
//   - (корреляция, true) при корректных данных
//   - (0, false) если длины не совпадают, меньше двух точек,
//     или один из рядов имеет нулевую дисперсию
func Pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0, false
	}

	meanX := Mean(xs)
	meanY := Mean(ys)

	var covXY, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		covXY += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	// Нулевая дисперсия - корреляция не определена
	if varX == 0 || varY == 0 {
		return 0, false
	}

	return covXY / math.Sqrt(varX*varY), true
}
