package leadlag

import (
	"sync"
	"testing"
	"time"

	"leadlag/internal/models"
	"leadlag/pkg/utils"
)

type fakeProvider struct {
	series map[models.SeriesKey][]float64
}

func (f *fakeProvider) GetReturns(n int) map[models.SeriesKey][]float64 {
	return f.series
}

type captureBroadcaster struct {
	mu     sync.Mutex
	topics []string
}

func (c *captureBroadcaster) Emit(topic string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
}

func newTestService(provider ReturnsProvider, b Broadcaster) *Service {
	log := utils.InitLogger(utils.LogConfig{Level: "error"})
	return NewService(provider, b, Params{MaxLag: 5, Window: 200}, time.Second, log)
}

func TestServiceComputeNow(t *testing.T) {
	leader := syntheticReturns(200, 21)
	provider := &fakeProvider{series: map[models.SeriesKey][]float64{
		keyBT:  leader,
		keyBNB: shiftBy(leader, 2),
	}}
	b := &captureBroadcaster{}
	s := newTestService(provider, b)

	results := s.ComputeNow()
	if len(results) == 0 {
		t.Fatal("ComputeNow() returned no results")
	}

	latest, at := s.Latest()
	if len(latest) != len(results) {
		t.Errorf("Latest() length = %d, want %d", len(latest), len(results))
	}
	if at.IsZero() {
		t.Error("Latest() timestamp is zero")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.topics) != 1 || b.topics[0] != "leadlagUpdate" {
		t.Errorf("broadcast topics = %v, want [leadlagUpdate]", b.topics)
	}
}

func TestServiceLatestReturnsCopy(t *testing.T) {
	leader := syntheticReturns(200, 33)
	provider := &fakeProvider{series: map[models.SeriesKey][]float64{
		keyBT:  leader,
		keyBNB: shiftBy(leader, 1),
	}}
	s := newTestService(provider, nil)
	s.ComputeNow()

	latest, _ := s.Latest()
	if len(latest) == 0 {
		t.Fatal("Latest() is empty")
	}
	latest[0].BestLag = 999

	again, _ := s.Latest()
	if again[0].BestLag == 999 {
		t.Error("Latest() exposes internal slice")
	}
}

func TestServiceSetParams(t *testing.T) {
	s := newTestService(&fakeProvider{}, nil)

	s.SetParams(Params{MaxLag: 20, Window: 1000})
	p := s.Params()
	if p.MaxLag != 20 || p.Window != 1000 {
		t.Errorf("Params() = %+v, want MaxLag=20 Window=1000", p)
	}
	// Незаполненные поля добираются дефолтами
	if p.MinSamples <= 0 || p.ImpulseZ <= 0 {
		t.Errorf("Params() defaults not applied: %+v", p)
	}
}
