package leadlag

import (
	"math"
	"sort"
	"time"

	"leadlag/internal/models"
	"leadlag/pkg/utils"
)

// Params - параметры лаг-анализа
type Params struct {
	// MaxLag - максимальный проверяемый лаг в барах
	MaxLag int `json:"max_lag"`
	// Window - глубина окна доходностей в барах
	Window int `json:"window"`
	// MinSamples - минимум выровненных наблюдений для зачёта пары
	MinSamples int `json:"min_samples"`
	// ImpulseZ - порог импульса в единицах стандартного отклонения лидера
	ImpulseZ float64 `json:"impulse_z"`
	// MinImpulses - минимум импульсов для подтверждения
	MinImpulses int `json:"min_impulses"`
	// MinMeanReturn - минимальная средняя доходность фолловера после импульса
	MinMeanReturn float64 `json:"min_mean_return"`
	// MinAbsCorr - порог |corr| для включения пары в выдачу
	MinAbsCorr float64 `json:"min_abs_corr"`
	// TopK - максимум пар в выдаче (0 = без ограничения)
	TopK int `json:"top_k"`
	// BarInterval - период бара (для пересчёта лага в миллисекунды)
	BarInterval time.Duration `json:"-"`
}

// DefaultParams возвращает параметры по умолчанию
func DefaultParams() Params {
	return Params{
		MaxLag:        10,
		Window:        600,
		MinSamples:    120,
		ImpulseZ:      2.5,
		MinImpulses:   5,
		MinMeanReturn: 0.0001,
		BarInterval:   500 * time.Millisecond,
	}
}

func (p *Params) applyDefaults() {
	def := DefaultParams()
	if p.MaxLag <= 0 {
		p.MaxLag = def.MaxLag
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.MinSamples <= 0 {
		p.MinSamples = def.MinSamples
	}
	if p.ImpulseZ <= 0 {
		p.ImpulseZ = def.ImpulseZ
	}
	if p.MinImpulses <= 0 {
		p.MinImpulses = def.MinImpulses
	}
	if p.MinMeanReturn <= 0 {
		p.MinMeanReturn = def.MinMeanReturn
	}
	if p.BarInterval <= 0 {
		p.BarInterval = def.BarInterval
	}
}

// Лаги выравниваются только при достаточном перекрытии
const minAlignedSamples = 5

// Compute выполняет лаг-анализ по всем упорядоченным парам серий
//
// Алгоритм на пару (лидер, фолловер):
//  1. Серии обрезаются до общей длины (самый свежий суффикс)
//  2. Для каждого лага L из [1, MaxLag] считается корреляция Пирсона
//     leader[0:n-L] против follower[L:n]
//  3. Лучший лаг - максимум |corr|; при равенстве берётся меньший лаг
//  4. Импульсная диагностика: импульс = |r_leader| >= ImpulseZ * std;
//     средняя доходность фолловера через L баров после импульса,
//     выровненная по знаку импульса
//  5. ConfirmScore 0..3: выборка, импульсы, средняя доходность
//
// Результаты отсортированы по убыванию |corr|. Пары с недостаточными
// данными или нулевой дисперсией не попадают в выдачу.
func Compute(series map[models.SeriesKey][]float64, params Params) []models.PairResult {
	params.applyDefaults()

	if len(series) < 2 {
		return nil
	}

	// Общая длина: бары нарезаются единым таймером, поэтому суффиксы
	// одинаковой длины выровнены по времени
	common := math.MaxInt
	for _, rs := range series {
		if len(rs) < common {
			common = len(rs)
		}
	}
	if common < minAlignedSamples+1 {
		return nil
	}
	if common > params.Window {
		common = params.Window
	}

	trimmed := make(map[models.SeriesKey][]float64, len(series))
	keys := make([]models.SeriesKey, 0, len(series))
	for key, rs := range series {
		trimmed[key] = rs[len(rs)-common:]
		keys = append(keys, key)
	}
	// Детерминированный порядок обхода
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var results []models.PairResult
	for _, leader := range keys {
		for _, follower := range keys {
			if leader == follower {
				continue
			}
			r, ok := analyzePair(leader, follower, trimmed[leader], trimmed[follower], params)
			if !ok {
				continue
			}
			if math.Abs(r.Correlation) < params.MinAbsCorr {
				continue
			}
			results = append(results, r)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		ai, aj := math.Abs(results[i].Correlation), math.Abs(results[j].Correlation)
		if ai != aj {
			return ai > aj
		}
		return results[i].BestLag < results[j].BestLag
	})
	if params.TopK > 0 && len(results) > params.TopK {
		results = results[:params.TopK]
	}
	return results
}

// analyzePair считает лучший лаг и импульсную диагностику одной пары
func analyzePair(leaderKey, followerKey models.SeriesKey, leader, follower []float64, params Params) (models.PairResult, bool) {
	n := len(leader)

	bestLag := 0
	bestCorr := 0.0
	bestSamples := 0
	found := false

	for lag := 1; lag <= params.MaxLag; lag++ {
		aligned := n - lag
		if aligned < minAlignedSamples {
			break
		}

		corr, ok := utils.Pearson(leader[:aligned], follower[lag:])
		if !ok {
			continue
		}

		if !found || math.Abs(corr) > math.Abs(bestCorr) {
			found = true
			bestLag = lag
			bestCorr = corr
			bestSamples = aligned
		}
	}

	if !found {
		return models.PairResult{}, false
	}

	result := models.PairResult{
		Leader:      leaderKey,
		Follower:    followerKey,
		Correlation: bestCorr,
		BestLag:     bestLag,
		BestLagMs:   int64(bestLag) * params.BarInterval.Milliseconds(),
		Samples:     bestSamples,
	}

	// Импульсная диагностика на лучшем лаге
	std := utils.SampleStd(leader)
	if std > 0 {
		threshold := params.ImpulseZ * std
		var sum float64
		var count int
		for i := 0; i+bestLag < n; i++ {
			if math.Abs(leader[i]) < threshold {
				continue
			}
			count++
			// Доходность фолловера в направлении импульса
			if leader[i] > 0 {
				sum += follower[i+bestLag]
			} else {
				sum -= follower[i+bestLag]
			}
		}
		result.ImpulseCount = count
		if count > 0 {
			mean := sum / float64(count)
			result.MeanFollowerReturn = &mean
		}
	}

	// Счёт подтверждения 0..3
	score := 0
	if result.Samples >= params.MinSamples {
		score++
	}
	if result.ImpulseCount >= params.MinImpulses {
		score++
	}
	// Средняя считается в направлении импульса лидера: устойчивое движение
	// фолловера против импульса очко не даёт
	if result.MeanFollowerReturn != nil && *result.MeanFollowerReturn >= params.MinMeanReturn {
		score++
	}
	result.ConfirmScore = score
	result.ConfirmLabel = models.ConfirmLabelForScore(score)

	return result, true
}
