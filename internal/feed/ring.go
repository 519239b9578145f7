package feed

import (
	"fmt"

	"leadlag/internal/models"
)

// Ring - кольцевой буфер баров фиксированной ёмкости
//
// Хранит последние capacity баров одной серии (symbol, source).
// Push - O(1) с перезаписью самого старого элемента, Tail - O(k).
// Не потокобезопасен: владелец - Feed Manager, все мутации идут
// из его таймера.
type Ring struct {
	buf      []models.Bar
	capacity int
	head     int // индекс следующей записи
	size     int
}

// NewRing создаёт буфер заданной ёмкости
//
// Единственное место ядра которое возвращает ошибку конструирования:
// неположительная ёмкость - ошибка программиста, не рантайма.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}
	return &Ring{
		buf:      make([]models.Bar, capacity),
		capacity: capacity,
	}, nil
}

// Push добавляет бар, перезаписывая самый старый при заполнении
func (r *Ring) Push(bar models.Bar) {
	r.buf[r.head] = bar
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Tail возвращает последние min(n, size) баров в хронологическом порядке
func (r *Ring) Tail(n int) []models.Bar {
	if n <= 0 || r.size == 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}

	out := make([]models.Bar, n)
	// head указывает на слот после самого нового элемента
	start := (r.head - n + r.capacity*2) % r.capacity
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%r.capacity]
	}
	return out
}

// Last возвращает самый свежий бар
func (r *Ring) Last() (models.Bar, bool) {
	if r.size == 0 {
		return models.Bar{}, false
	}
	idx := (r.head - 1 + r.capacity) % r.capacity
	return r.buf[idx], true
}

// Size возвращает текущее количество баров
func (r *Ring) Size() int {
	return r.size
}

// Capacity возвращает ёмкость буфера
func (r *Ring) Capacity() int {
	return r.capacity
}

// Clear сбрасывает буфер в пустое состояние
func (r *Ring) Clear() {
	r.head = 0
	r.size = 0
}
