package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoute() *UssdRoute {
	return &UssdRoute{
		ID:           "route_1",
		Code:         "SAF_DATA",
		DialTemplate: "*544*{product}*{phone}#",
		ExpectedResponses: []ExpectedResponse{
			{Step: 2, Pattern: `Select bundle`},
			{Step: 1, Pattern: `Buy Data`},
		},
		ExtractionPatterns: []ExtractionPattern{
			{Field: "menu", Pattern: `^1\. (\w+ \w+)`, Step: 1},
			{Field: "reference", Pattern: `Reference: (REF\d+)`, Step: 3},
		},
	}
}

func TestCompileRules(t *testing.T) {
	rules, err := CompileRules(testRoute())
	require.NoError(t, err)

	assert.Len(t, rules.Expected, 2)
	assert.Equal(t, 1, rules.Expected[0].Step)

	rule, ok := rules.ExpectedFor(2)
	require.True(t, ok)
	assert.True(t, rule.Pattern.MatchString("Select bundle:\n1. 1GB - 200"))

	_, ok = rules.ExpectedFor(3)
	assert.False(t, ok)
}

func TestCompileRules_InvalidPattern(t *testing.T) {
	route := testRoute()
	route.ExtractionPatterns[0].Pattern = `(unclosed`
	_, err := CompileRules(route)
	assert.Error(t, err)

	route = testRoute()
	route.ExpectedResponses[0].Pattern = `[`
	_, err = CompileRules(route)
	assert.Error(t, err)

	route = testRoute()
	route.ExtractionPatterns[0].Field = ""
	_, err = CompileRules(route)
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	rules, err := CompileRules(testRoute())
	require.NoError(t, err)

	response := "1. Buy Data\n2. Check Balance\nReference: REF123456"

	all := rules.ExtractAll(response)
	assert.Equal(t, map[string]string{"menu": "Buy Data", "reference": "REF123456"}, all)

	step1 := rules.ExtractStep(1, response)
	assert.Equal(t, map[string]string{"menu": "Buy Data"}, step1)

	step2 := rules.ExtractStep(2, response)
	assert.Empty(t, step2)

	none := rules.ExtractAll("nothing to see")
	assert.Empty(t, none)
}

func TestUssdRoute_Interpolate(t *testing.T) {
	route := testRoute()
	assert.Equal(t, "*544*DATA1GB*254712345678#", route.Interpolate("", "254712345678", "DATA1GB"))

	route.DialTemplate = "*140*{amount}*{phone}#"
	assert.Equal(t, "*140*50*0712345678#", route.Interpolate("50", "0712345678", ""))
}

func TestUssdRoute_Available(t *testing.T) {
	route := UssdRoute{IsActive: true, Status: RouteActive}
	assert.True(t, route.Available())

	route.Status = RouteDegraded
	assert.True(t, route.Available())

	route.Status = RouteFailed
	assert.False(t, route.Available())

	route.Status = RouteActive
	route.IsActive = false
	assert.False(t, route.Available())
}

func TestUssdSession_MergeExtracted(t *testing.T) {
	s := UssdSession{}
	s.MergeExtracted(map[string]string{"menu": "Buy Data"})
	s.MergeExtracted(map[string]string{"reference": "REF1"})
	assert.Equal(t, map[string]string{"menu": "Buy Data", "reference": "REF1"}, s.ExtractedData)
}

func TestParseUssdAction(t *testing.T) {
	a, ok := ParseUssdAction(" Initiate ")
	assert.True(t, ok)
	assert.Equal(t, ActionInitiate, a)

	_, ok = ParseUssdAction("restart")
	assert.False(t, ok)
}
