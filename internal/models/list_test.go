package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func makeRequests(base time.Time) []Request {
	return []Request{
		{ID: uuid.New(), Title: "a", CreatedAt: base.Add(1 * time.Hour), UpdatedAt: base.Add(9 * time.Hour)},
		{ID: uuid.New(), Title: "b", CreatedAt: base.Add(2 * time.Hour), UpdatedAt: base.Add(3 * time.Hour), Pinned: true},
		{ID: uuid.New(), Title: "c", CreatedAt: base.Add(3 * time.Hour), UpdatedAt: base.Add(4 * time.Hour)},
		{ID: uuid.New(), Title: "d", CreatedAt: base.Add(4 * time.Hour), UpdatedAt: base.Add(1 * time.Hour), Pinned: true},
		{ID: uuid.New(), Title: "e", CreatedAt: base.Add(5 * time.Hour), UpdatedAt: base.Add(2 * time.Hour)},
	}
}

func titles(list []Request) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.Title
	}
	return out
}

func TestSortRequests_PinnedAlwaysFirst(t *testing.T) {
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		order SortOrder
		want  []string
	}{
		{SortNewest, []string{"d", "b", "e", "c", "a"}},
		{SortOldest, []string{"b", "d", "a", "c", "e"}},
		{SortUpdated, []string{"b", "d", "a", "c", "e"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			list := makeRequests(base)
			SortRequests(list, tt.order)
			assert.Equal(t, tt.want, titles(list))

			seenUnpinned := false
			for _, r := range list {
				if !r.Pinned {
					seenUnpinned = true
					continue
				}
				assert.False(t, seenUnpinned, "pinned request %s after unpinned", r.Title)
			}
		})
	}
}

func TestListFilter_NormalizeAndHash(t *testing.T) {
	f := ListFilter{Stages: []Stage{StagePending, StageNew, StageNew}, Limit: 1000, Offset: -3, Search: "  fence "}
	n := f.Normalize()

	assert.Equal(t, []Stage{StageNew, StagePending}, n.Stages)
	assert.Equal(t, MaxListLimit, n.Limit)
	assert.Equal(t, 0, n.Offset)
	assert.Equal(t, SortNewest, n.Sort)
	assert.Equal(t, "fence", n.Search)

	same := ListFilter{Stages: []Stage{StageNew, StagePending}, Limit: 500, Search: "fence", ViewerID: "other"}
	assert.Equal(t, f.Hash(), same.Hash(), "viewer is not part of the filter hash")

	different := ListFilter{Stages: []Stage{StageNew}}
	assert.NotEqual(t, f.Hash(), different.Hash())
}

func TestRequest_Participants(t *testing.T) {
	assignee := "u2"
	r := Request{SubmitterID: "u1", AssignedTo: &assignee}
	assert.Equal(t, []string{"u1", "u2"}, r.Participants())
	assert.True(t, r.IsAssignedTo("u2"))
	assert.False(t, r.IsAssignedTo("u1"))

	self := "u1"
	r.AssignedTo = &self
	assert.Equal(t, []string{"u1"}, r.Participants())
}
