package tabulate

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/tabloom/tabloom-cli/internal/category"
	"github.com/tabloom/tabloom-cli/internal/dataset"
	"github.com/tabloom/tabloom-cli/internal/schema"
)

// RankingRow is the aggregate for one ranked item within one category:
// counts and percentages per rank position 1..K, the reciprocal-rank score
// total, and the category's respondent denominator. The denominator is the
// category's full row count (or weight sum) before any rank filtering, so an
// item's percentages across ranks need not sum to 1.
type RankingRow struct {
	Category         string
	BaseQuestion     string
	Item             string
	ItemLabel        string
	RankCounts       []float64
	RankPercentages  []float64
	RankWeightedSums []float64 // weighted runs only
	TotalScore       float64
	TotalRespondents float64
}

var rankSuffixRe = regexp.MustCompile(`(\d+)$`)

// rankGroup reshapes a ranking group to one observation per (respondent,
// rank column), discards missing and out-of-set values, and aggregates
// reciprocal-rank scores per item per category.
func (r *Result) rankGroup(ds *dataset.Dataset, g schema.Group, cats []category.Category, opt Options) {
	if len(g.ValueLabels) == 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("ranking %q: no value labels, group skipped", g.BaseQuestion))
		return
	}
	possible := possibleValues(g.ValueLabels, opt.NaNCodes)
	if len(possible) == 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("ranking %q: all labelled values are missing codes, group skipped", g.BaseQuestion))
		return
	}
	valid := codeSet(possible)

	rowMask, ok := r.filterMask(ds, g.BaseQuestion, opt)
	if !ok {
		return
	}

	// Rank position comes from the numeric suffix of the column name.
	type rankCol struct {
		col  *dataset.Column
		rank int
	}
	var rankCols []rankCol
	maxRank := 0
	for _, name := range g.Columns {
		col, ok := ds.Column(name)
		if !ok || col.Kind != dataset.Numeric {
			continue
		}
		m := rankSuffixRe.FindStringSubmatch(name)
		if m == nil {
			r.Warnings = append(r.Warnings,
				fmt.Sprintf("ranking %q: column %q has no rank suffix, ignored", g.BaseQuestion, name))
			continue
		}
		rank, err := strconv.Atoi(m[1])
		if err != nil || rank <= 0 {
			continue
		}
		rankCols = append(rankCols, rankCol{col: col, rank: rank})
		if rank > maxRank {
			maxRank = rank
		}
	}
	if len(rankCols) == 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("ranking %q: no usable rank columns, group skipped", g.BaseQuestion))
		return
	}

	weighted := opt.Weights != nil

	for _, cat := range cats {
		inCat := cat.Mask()

		// Denominator before rank filtering: every row in the category.
		var total float64
		for i := range inCat {
			if !inCat[i] || (rowMask != nil && !rowMask[i]) {
				continue
			}
			if weighted {
				total += opt.Weights[i]
			} else {
				total++
			}
		}
		if total == 0 {
			continue
		}

		type itemAgg struct {
			counts []float64
			wsums  []float64
			score  float64
		}
		items := make(map[float64]*itemAgg)

		for _, rc := range rankCols {
			for i := 0; i < rc.col.Len(); i++ {
				if !inCat[i] || (rowMask != nil && !rowMask[i]) || rc.col.IsNull(i) {
					continue
				}
				v := rc.col.Num(i)
				if _, ok := valid[v]; !ok {
					continue
				}
				agg := items[v]
				if agg == nil {
					agg = &itemAgg{
						counts: make([]float64, maxRank),
						wsums:  make([]float64, maxRank),
					}
					items[v] = agg
				}
				w := 1.0
				if weighted {
					w = opt.Weights[i]
				}
				agg.counts[rc.rank-1]++
				agg.wsums[rc.rank-1] += w
				agg.score += w / float64(rc.rank)
			}
		}

		for _, v := range possible {
			agg := items[v]
			if agg == nil {
				continue
			}
			row := RankingRow{
				Category:         cat.Name,
				BaseQuestion:     g.BaseQuestion,
				Item:             formatAnswer(v),
				ItemLabel:        g.ValueLabels[v],
				RankCounts:       agg.counts,
				TotalScore:       agg.score,
				TotalRespondents: total,
			}
			row.RankPercentages = make([]float64, maxRank)
			for k := 0; k < maxRank; k++ {
				num := agg.counts[k]
				if weighted {
					num = agg.wsums[k]
				}
				row.RankPercentages[k] = num / total
			}
			if weighted {
				row.RankWeightedSums = agg.wsums
			}
			r.Ranking = append(r.Ranking, row)
		}
	}
}
