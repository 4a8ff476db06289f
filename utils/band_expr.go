package utils

import (
	"fmt"
	"strings"

	goeval "github.com/edisonguo/govaluate"
)

// BandExpressions holds the parsed per-pixel band math for a
// collection. VarList is the union of band names referenced by any
// expression and drives which spectral bands the loader fetches.
type BandExpressions struct {
	ExprText    []string
	Expressions []*goeval.EvaluableExpression
	VarList     []string
	ExprVarRef  [][]string
}

func ParseBandExpressions(bands []string) (*BandExpressions, error) {
	bandExpr := &BandExpressions{}
	varFound := make(map[string]bool)
	for ib, bandRaw := range bands {
		band := strings.TrimSpace(bandRaw)
		if len(band) == 0 {
			return nil, fmt.Errorf("expression %d is empty", ib)
		}

		expr, err := goeval.NewEvaluableExpression(band)
		if err != nil {
			return nil, fmt.Errorf("parsing error: %v", err)
		}

		bandExpr.Expressions = append(bandExpr.Expressions, expr)
		bandExpr.ExprText = append(bandExpr.ExprText, band)

		exprVarFound := make(map[string]bool)
		var exprVars []string
		for _, token := range expr.Tokens() {
			if token.Kind != goeval.VARIABLE {
				continue
			}
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}

			if !varFound[varName] {
				varFound[varName] = true
				bandExpr.VarList = append(bandExpr.VarList, varName)
			}

			if !exprVarFound[varName] {
				exprVarFound[varName] = true
				exprVars = append(exprVars, varName)
			}
		}
		bandExpr.ExprVarRef = append(bandExpr.ExprVarRef, exprVars)
	}

	if len(bandExpr.VarList) == 0 {
		return nil, fmt.Errorf("expressions reference no bands: %v", bands)
	}

	return bandExpr, nil
}
