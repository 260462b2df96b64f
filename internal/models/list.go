package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// SortOrder порядок сортировки списка
type SortOrder string

const (
	SortNewest  SortOrder = "newest"
	SortOldest  SortOrder = "oldest"
	SortUpdated SortOrder = "updated"
)

func (s SortOrder) IsValid() bool {
	return s == SortNewest || s == SortOldest || s == SortUpdated
}

// ListFilter параметры выборки списка заявок
type ListFilter struct {
	Stages      []Stage     `json:"stages,omitempty"`
	RequestType RequestType `json:"request_type,omitempty"`
	AssignedTo  string      `json:"assigned_to,omitempty"`
	SubmitterID string      `json:"submitter_id,omitempty"`
	Urgency     Urgency     `json:"urgency,omitempty"`
	Search      string      `json:"search,omitempty"`
	Sort        SortOrder   `json:"sort,omitempty"`
	Limit       int         `json:"limit,omitempty"`
	Offset      int         `json:"offset,omitempty"`

	// ViewerID определяет закрепления и счетчики непрочитанного
	ViewerID string `json:"viewer_id"`
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Normalize приводит фильтр к каноничному виду
func (f ListFilter) Normalize() ListFilter {
	if !f.Sort.IsValid() {
		f.Sort = SortNewest
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)
	stages := slices.Clone(f.Stages)
	slices.Sort(stages)
	f.Stages = slices.Compact(stages)
	return f
}

// Hash стабильный ключ фильтра для кэша
func (f ListFilter) Hash() string {
	n := f.Normalize()
	stages := make([]string, len(n.Stages))
	for i, s := range n.Stages {
		stages[i] = string(s)
	}
	raw := fmt.Sprintf("s=%s|t=%s|a=%s|u=%s|g=%s|q=%s|o=%s|l=%d|off=%d",
		strings.Join(stages, ","), n.RequestType, n.AssignedTo, n.SubmitterID,
		n.Urgency, n.Search, n.Sort, n.Limit, n.Offset)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// SortRequests сортирует заявки: закрепленные всегда идут первыми,
// внутри групп - по выбранному критерию
func SortRequests(list []Request, order SortOrder) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		switch order {
		case SortOldest:
			return a.CreatedAt.Before(b.CreatedAt)
		case SortUpdated:
			return a.UpdatedAt.After(b.UpdatedAt)
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})
}
