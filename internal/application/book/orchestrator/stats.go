package orchestrator

import "pustakam-api/internal/domain/entity"

// Stats 进度统计，每次模块状态变化后由 book.Modules 重新计算
type Stats struct {
	TotalModules             int     `json:"total_modules"`
	CompletedModules         int     `json:"completed_modules"`
	FailedModules            int     `json:"failed_modules"`
	TotalWordsGenerated      int     `json:"total_words_generated"`
	AverageTimePerModuleMs   int64   `json:"average_time_per_module_ms"`
	EstimatedTimeRemainingMs int64   `json:"estimated_time_remaining_ms"`
	WordsPerMinute           float64 `json:"words_per_minute"`
}

// ComputeStats 从书的模块集合计算统计
func ComputeStats(b *entity.BookProject) Stats {
	if b == nil {
		return Stats{}
	}
	s := Stats{
		TotalModules:        b.TotalModules(),
		CompletedModules:    b.CompletedCount(),
		FailedModules:       b.FailedCount(),
		TotalWordsGenerated: b.TotalWords(),
	}

	var totalMs int64
	for _, m := range b.Modules {
		if m.IsDone() {
			totalMs += m.DurationMs
		}
	}
	if s.CompletedModules > 0 {
		s.AverageTimePerModuleMs = totalMs / int64(s.CompletedModules)
	}
	if remaining := s.TotalModules - s.CompletedModules; remaining > 0 {
		s.EstimatedTimeRemainingMs = s.AverageTimePerModuleMs * int64(remaining)
	}
	if totalMs > 0 {
		minutes := float64(totalMs) / 60000
		s.WordsPerMinute = float64(s.TotalWordsGenerated) / minutes
	}
	return s
}
