package runner

import "sync"

// HeatTracker — учёт доли капитала под риском по открытым позициям.
// Сайзер heat только читает; мутируем здесь, после подтверждённого исполнения.
type HeatTracker struct {
	mu   sync.Mutex
	heat map[string]float64 // clOrdId -> доля капитала под риском
}

func NewHeatTracker() *HeatTracker {
	return &HeatTracker{heat: make(map[string]float64)}
}

// AddRisk фиксирует риск подтверждённой позиции.
func (h *HeatTracker) AddRisk(clientOrderID string, fraction float64) {
	if fraction <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heat[clientOrderID] = fraction
}

// ReleaseRisk снимает риск после закрытия позиции (зовёт внешний трекер позиций).
func (h *HeatTracker) ReleaseRisk(clientOrderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.heat, clientOrderID)
}

// Current — суммарный heat, 0..1.
func (h *HeatTracker) Current() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0.0
	for _, f := range h.heat {
		total += f
	}
	return total
}
