package memory

import (
	"repartition/internal/repository"
)

var (
	_ repository.RuleRepository    = (*RuleRepository)(nil)
	_ repository.HistoryRepository = (*HistoryRepository)(nil)
)
