package prompt

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Example is a worked question/answer pair that anchors the output format.
type Example struct {
	Style    string
	Question string
	Response string
}

// DefaultExamples covers every supported query style: a direct filter, a
// joined filter, a joined lookup with grouping and a wide impexp table query.
var DefaultExamples = []Example{
	{
		Style:    "direct filter",
		Question: "all exports shipped through Mumbai port",
		Response: `{"collection": "trades", "pipeline": [{"$match": {"trade_type": "Export", "port": "Mumbai"}}]}`,
	},
	{
		Style:    "joined filter",
		Question: "exports from india",
		Response: `{"collection": "trades", "pipeline": [{"$lookup": {"from": "countries", "localField": "country_id", "foreignField": "_id", "as": "country_doc"}}, {"$unwind": "$country_doc"}, {"$match": {"country_doc.country_name": "India", "trade_type": "Export"}}]}`,
	},
	{
		Style:    "joined lookup with grouping",
		Question: "top 3 commodities by value in 2024",
		Response: `{"collection": "trades", "pipeline": [{"$lookup": {"from": "years", "localField": "year_id", "foreignField": "_id", "as": "year_doc"}}, {"$unwind": "$year_doc"}, {"$lookup": {"from": "commodities", "localField": "commodity_id", "foreignField": "_id", "as": "commodity_doc"}}, {"$unwind": "$commodity_doc"}, {"$match": {"year_doc.year": 2024}}, {"$group": {"_id": "$commodity_doc.commodity_name", "total_value": {"$sum": "$value_usd"}}}, {"$sort": {"total_value": -1}}, {"$limit": 3}]}`,
	},
	{
		Style:    "wide aggregate table",
		Question: "monthly import of crude oil",
		Response: `{"collection": "impexp", "pipeline": [{"$match": {"product": "CRUDE OIL", "import_export_quantity_in_000_metric_tonnes": "IMPORT"}}, {"$project": {"_id": 0, "product": 1, "april": 1, "may": 1, "june": 1, "july": 1, "august": 1, "september": 1, "october": 1, "november": 1, "december": 1, "january": 1, "february": 1, "march": 1, "total": 1}}]}`,
	},
	{
		Style:    "grouped totals",
		Question: "total exports by port",
		Response: `{"collection": "trades", "pipeline": [{"$match": {"trade_type": "Export"}}, {"$group": {"_id": "$port", "total_usd": {"$sum": "$value_usd"}}}, {"$sort": {"total_usd": -1}}]}`,
	},
}

var wordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// rankExamples orders examples by ascending overlap with the question so the
// closest example ends up last, right before the question. Ties keep input order.
func rankExamples(examples []Example, question string) []Example {
	q := tokenSet(question)
	type scored struct {
		ex    Example
		score float64
	}
	s := make([]scored, len(examples))
	for i, ex := range examples {
		s[i] = scored{ex, ochiai(q, tokenSet(ex.Question))}
	}
	sort.SliceStable(s, func(i, j int) bool { return s[i].score < s[j].score })
	out := make([]Example, len(s))
	for i := range s {
		out[i] = s[i].ex
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// ochiai is |A∩B| / sqrt(|A||B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
