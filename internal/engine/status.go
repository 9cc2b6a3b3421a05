package engine

import (
	"time"

	"diffusiond/pkg/types"
)

// Status builds a detailed status response for /status.
func (e *Engine) Status() types.StatusResponse {
	e.mu.RLock()
	defer e.mu.RUnlock()
	resp := types.StatusResponse{
		State:            string(e.state),
		Device:           e.device,
		ModelID:          e.manifest.ModelID,
		SafetyModelID:    e.manifest.SafetyModelID,
		SafetyFilter:     e.cfg.Classifier != nil,
		UptimeSeconds:    int64(time.Since(e.startTime).Seconds()),
		ServerTimeUnix:   time.Now().Unix(),
		PredictionsTotal: e.predictions.Load(),
		FilteredTotal:    e.filtered.Load(),
		LastError:        e.lastErr,
		Variants:         []types.VariantStatus{},
	}
	if e.state != StateReady {
		return resp
	}
	for _, s := range []*slot{e.txt2img, e.img2img} {
		resp.Variants = append(resp.Variants, types.VariantStatus{
			Mode:          s.variant.Mode().String(),
			Sampler:       s.variant.Sampler().String(),
			QueueLen:      len(s.queueCh),
			Inflight:      len(s.genCh),
			MaxQueueDepth: cap(s.queueCh),
		})
	}
	return resp
}
