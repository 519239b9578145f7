package models

// Метки подтверждения пары (закрытое перечисление)
const (
	ConfirmOK     = "OK"      // score == 3
	ConfirmWeak   = "WEAK"    // score == 2
	ConfirmNoData = "NO_DATA" // score < 2
)

// ConfirmLabelForScore возвращает метку для числового счёта 0-3
func ConfirmLabelForScore(score int) string {
	switch {
	case score >= 3:
		return ConfirmOK
	case score == 2:
		return ConfirmWeak
	default:
		return ConfirmNoData
	}
}

// PairResult - результат кросс-корреляционного анализа упорядоченной пары
//
// Пересчитывается целиком на каждом аналитическом тике, не персистится.
// Лидер - серия чья прошлая доходность лучше всего предсказывает
// будущую доходность фолловера.
type PairResult struct {
	Leader   SeriesKey `json:"leader"`
	Follower SeriesKey `json:"follower"`

	Correlation float64 `json:"correlation"`
	BestLag     int     `json:"best_lag"`    // в барах
	BestLagMs   int64   `json:"best_lag_ms"` // в миллисекундах
	Samples     int     `json:"samples"`

	// Импульсная диагностика на выигравшем лаге
	ImpulseCount int `json:"impulse_count"`
	// Средняя доходность фолловера через lag баров после импульса лидера,
	// выровненная по знаку импульса. nil если импульсов не было.
	MeanFollowerReturn *float64 `json:"mean_follower_return"`

	ConfirmScore int    `json:"confirm_score"` // 0-3
	ConfirmLabel string `json:"confirm_label"` // OK / WEAK / NO_DATA
}
