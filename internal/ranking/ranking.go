// Package ranking computes live standings for one box. It is pure: no
// I/O, no mutation of its inputs, identical output for identical input.
//
// Placement works on rank points, not raw scores. Each route ranks the
// competitors that scored on it; tied blocks share the mean of the rank
// range they occupy. The overall total is the geometric mean of the
// per-route points, with unscored routes filled by a worst-case penalty.
// Lower totals place higher. Recorded times never influence placement.
package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/uivlisievoicroc/escalada-scoreboard/internal/boxstate"
)

// Row is one line of the computed standings. Rank is 1-based and shared
// among equal totals. Scores and Times are copies of the raw per-route
// series; Points is the filled rank-point vector behind Total.
type Row struct {
	Rank   int
	Name   string
	Scores []*float64
	Times  []*float64
	Points []float64
	Total  float64
}

// Compute derives the ordered standings for a box's competitors across
// routesCount routes. Competitors with no recorded score on any route are
// omitted from the result entirely.
func Compute(routesCount int, competitors []boxstate.Competitor) []Row {
	if routesCount < 1 || len(competitors) == 0 {
		return nil
	}

	type scored struct {
		idx   int
		key   string
		score float64
	}

	// Per-route rank points: sort scored competitors descending by score,
	// ties by name; a tied block spanning ranks i..j all get (i+j)/2.
	points := make([]map[int]float64, routesCount)
	scoredOnRoute := make([]int, routesCount)
	for r := 0; r < routesCount; r++ {
		var entries []scored
		for i, c := range competitors {
			if r < len(c.Scores) && c.Scores[r] != nil {
				entries = append(entries, scored{idx: i, key: nameKey(c.Name), score: *c.Scores[r]})
			}
		}
		scoredOnRoute[r] = len(entries)
		if len(entries) == 0 {
			continue
		}

		sort.Slice(entries, func(a, b int) bool {
			if entries[a].score != entries[b].score {
				return entries[a].score > entries[b].score
			}
			return entries[a].key < entries[b].key
		})

		points[r] = make(map[int]float64, len(entries))
		for i := 0; i < len(entries); {
			j := i
			for j+1 < len(entries) && entries[j+1].score == entries[i].score {
				j++
			}
			mid := float64(i+1+j+1) / 2
			for k := i; k <= j; k++ {
				points[r][entries[k].idx] = mid
			}
			i = j + 1
		}
	}

	var rows []Row
	for i, c := range competitors {
		if !hasAnyScore(c, routesCount) {
			continue
		}
		vec := make([]float64, routesCount)
		product := 1.0
		for r := 0; r < routesCount; r++ {
			p, ok := points[r][i]
			if !ok {
				// Worst-case fill: one place behind everyone who scored.
				p = float64(scoredOnRoute[r] + 1)
			}
			vec[r] = p
			product *= p
		}
		rows = append(rows, Row{
			Name:   c.Name,
			Scores: cloneSeries(c.Scores),
			Times:  cloneSeries(c.Times),
			Points: vec,
			Total:  round3(math.Pow(product, 1/float64(routesCount))),
		})
	}

	sort.Slice(rows, func(a, b int) bool {
		if rows[a].Total != rows[b].Total {
			return rows[a].Total < rows[b].Total
		}
		return nameKey(rows[a].Name) < nameKey(rows[b].Name)
	})

	for i := range rows {
		if i > 0 && rows[i].Total == rows[i-1].Total {
			rows[i].Rank = rows[i-1].Rank
		} else {
			rows[i].Rank = i + 1
		}
	}
	return rows
}

// ComputeBox is Compute over a box record, spanning its effective route
// count.
func ComputeBox(box *boxstate.Box) []Row {
	return Compute(box.RouteSpan(), box.Competitors)
}

// ShowTime reports whether a row's recorded times should be displayed:
// only the top three rows, and only when the box ranks on time.
func ShowTime(timeCriterion bool, row int) bool {
	return timeCriterion && row < 3
}

func hasAnyScore(c boxstate.Competitor, routesCount int) bool {
	for r := 0; r < routesCount && r < len(c.Scores); r++ {
		if c.Scores[r] != nil {
			return true
		}
	}
	return false
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

func cloneSeries(in []*float64) []*float64 {
	if in == nil {
		return nil
	}
	out := make([]*float64, len(in))
	for i, v := range in {
		if v != nil {
			f := *v
			out[i] = &f
		}
	}
	return out
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
