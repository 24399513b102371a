package models

// ImportKindStat holds job counts per status for one import kind.
type ImportKindStat struct {
	Kind     ImportKind           `json:"kind"`
	Total    int                  `json:"total"`
	ByStatus map[ImportStatus]int `json:"by_status"`
}

// ImportStat is the admin dashboard widget: per-kind counters plus the latest jobs.
type ImportStat struct {
	Kinds       []ImportKindStat `json:"kinds"`
	Recent      []ImportJob      `json:"recent"`
	SuccessRate float64          `json:"success_rate"` // completed / finished
}
