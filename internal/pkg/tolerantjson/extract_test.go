package tolerantjson

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNeverPanics(t *testing.T) {
	inputs := map[string]string{
		"empty":           "",
		"whitespace":      "   \n\t ",
		"prose":           "The patient seems fine, nothing to add.",
		"valid":           `{"a": 1, "b": [1, 2, {"c": "d"}]}`,
		"trailing_commas": `{"a": [1, 2,], "b": {"c": 3,},}`,
		"single_quotes":   `{'a': 'it\'s fine', 'b': 'say "hi"'}`,
		"embedded":        `Sure! Here you go: {"a": {"b": 2}} Let me know.`,
		"deep":            strings.Repeat(`{"a":`, 60) + "1" + strings.Repeat("}", 60),
		"deep_unclosed":   strings.Repeat("{", 3000),
		"markdown":        "# Title\n\n## Findings\n- one\n- two\n",
		"only_open":       "{",
		"only_close":      "}}}",
		"array":           `[1, 2, 3]`,
		"dangling_key":    `"a": `,
		"binary":          "\x00\xff\xfe{\"a\x00\": 1",
		"unicode":         `{"症状": "头痛", "note": "😀"}`,
		"nan":             `"score": NaN, "inf": Inf`,
		"broken_fence":    "```json\n{\"a\": 1,\n",
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			var result Result
			require.NotPanics(t, func() {
				result = Parse(input, Options{})
			})
			require.NotNil(t, result.Object)
			require.NotEmpty(t, result.Strategy)

			_, err := json.Marshal(result.Object)
			require.NoError(t, err, "result must always be serializable")
		})
	}
}

func TestParsePlaceholderPanicFallsBackToDefault(t *testing.T) {
	result := Parse("no json here", Options{
		Placeholder: func(raw string) map[string]any {
			panic("boom")
		},
	})
	assert.Equal(t, StrategyFallback, result.Strategy)
	assert.Equal(t, "no json here", result.Object["raw_text"])
}

func TestParseIdempotentOnOwnOutput(t *testing.T) {
	inputs := []string{
		`{"a": 1, "nested": {"list": ["x", "y"], "flag": true, "none": null}}`,
		`prefix {"a": 'x', "b": 1,} suffix`,
		"```json\n{\"k\": \"v\"}\n```",
		`"summary": "ok", "count": 3`,
		"# Report\n## Findings\nAll normal.\n- item\n",
		"completely unstructured text",
	}

	for _, input := range inputs {
		first := ParseObject(input)
		data, err := json.Marshal(first)
		require.NoError(t, err)

		second := Parse(string(data), Options{})
		assert.Equal(t, StrategyDirect, second.Strategy)
		assert.Equal(t, first, second.Object, "input: %s", input)
	}
}

func TestParseSelectsOutermostBalancedObject(t *testing.T) {
	input := `Note {not json} then the answer: ` +
		`{"outer": {"inner": {"x": 1}}, "s": "brace } in string", "list": [{"y": 2}]}` +
		` and a stray } at the end`

	result := Parse(input, Options{})
	require.Equal(t, StrategyBalanced, result.Strategy)

	outer, ok := result.Object["outer"].(map[string]any)
	require.True(t, ok)
	inner, ok := outer["inner"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), inner["x"])
	assert.Equal(t, "brace } in string", result.Object["s"])
	assert.Len(t, result.Object["list"], 1)
}

func TestParseRepairsSingleQuotesAndTrailingComma(t *testing.T) {
	input := `{"a": 'x', "b": 1,}`

	var direct map[string]any
	require.Error(t, json.Unmarshal([]byte(input), &direct))

	result := Parse(input, Options{})
	assert.Equal(t, StrategyRepaired, result.Strategy)
	assert.Equal(t, map[string]any{"a": "x", "b": float64(1)}, result.Object)
}

func TestParseFencedBlock(t *testing.T) {
	input := "Here is the result:\n```json\n{\"a\": 1}\n```\nAnything else?"
	result := Parse(input, Options{})
	assert.Equal(t, StrategyFenced, result.Strategy)
	assert.Equal(t, float64(1), result.Object["a"])
}

func TestParseStripsWrapperTags(t *testing.T) {
	input := "<think>let me think {about it}</think>\n<response>{\"a\": \"b\"}</response>"
	result := Parse(input, Options{})
	assert.Equal(t, StrategyDirect, result.Strategy)
	assert.Equal(t, "b", result.Object["a"])
}

func TestParseKeepsTagsInsideStringValues(t *testing.T) {
	input := `<json>{"note": "uses <b>bold</b> text", "list": ["<i>x</i>"]}</json>`
	result := Parse(input, Options{})
	require.Equal(t, StrategyDirect, result.Strategy)
	assert.Equal(t, "uses <b>bold</b> text", result.Object["note"])
	assert.Equal(t, []any{"<i>x</i>"}, result.Object["list"])
}

func TestParseRepairsBareKeysAndComments(t *testing.T) {
	input := "{a: 1, // the count\n b: 'two', /* block */ c_d: [true, false]}"
	result := Parse(input, Options{})
	require.Equal(t, StrategyRepaired, result.Strategy)
	assert.Equal(t, float64(1), result.Object["a"])
	assert.Equal(t, "two", result.Object["b"])
	assert.Equal(t, []any{true, false}, result.Object["c_d"])
}

func TestParseEscapesInnerQuotes(t *testing.T) {
	input := `{"note": "patient said "it hurts" often", "n": 2}`
	result := Parse(input, Options{})
	require.Equal(t, StrategyRepaired, result.Strategy)
	assert.Equal(t, `patient said "it hurts" often`, result.Object["note"])
	assert.Equal(t, float64(2), result.Object["n"])
}

func TestParseApostropheInsideInnerQuotes(t *testing.T) {
	input := `{"preliminary_assessment": "Patient reports "I can't breathe at night"", "recommended_specialist_type": "Pulmonologist"}`
	result := Parse(input, Options{})
	require.Equal(t, StrategyRepaired, result.Strategy)
	assert.Equal(t, `Patient reports "I can't breathe at night"`, result.Object["preliminary_assessment"])
	assert.Equal(t, "Pulmonologist", result.Object["recommended_specialist_type"])
}

func TestConvertSingleQuotesOnlyAtValueStart(t *testing.T) {
	cases := map[string]string{
		`{'a': 'x', "b": ['y', 'z']}`: `{"a": "x", "b": ["y", "z"]}`,
		`{"a": "it"s fine", "b": 1}`:  `{"a": "it"s fine", "b": 1}`,
		`{"a": "x" don't, "b": 'y'}`:  `{"a": "x" don't, "b": "y"}`,
	}
	for in, want := range cases {
		if got := convertSingleQuotes(in); got != want {
			t.Fatalf("convertSingleQuotes(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestParseClosesTruncatedOutput(t *testing.T) {
	input := `{"a": "x", "list": ["p", "q"`
	result := Parse(input, Options{})
	require.Equal(t, StrategyRepaired, result.Strategy)
	assert.Equal(t, "x", result.Object["a"])
	assert.Equal(t, []any{"p", "q"}, result.Object["list"])
}

func TestParseReconstructsKeyValues(t *testing.T) {
	input := `Result -> "summary": "Looks fine", "score": 7, "flags": ["a", "b"], "ok": true, "nothing": null`
	result := Parse(input, Options{})
	require.Equal(t, StrategyKeyValue, result.Strategy)
	assert.Equal(t, "Looks fine", result.Object["summary"])
	assert.Equal(t, float64(7), result.Object["score"])
	assert.Equal(t, []any{"a", "b"}, result.Object["flags"])
	assert.Equal(t, true, result.Object["ok"])
	v, present := result.Object["nothing"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestParseSynthesizesMarkdown(t *testing.T) {
	input := "# Blood Report Analysis\n\n" +
		"## Key Findings\nHemoglobin is low.\n- Hemoglobin 9.5 g/dL\n- **MCV** low\n\n" +
		"## Abnormalities\n- Anemia suspected\n\n" +
		"## Notes\n- unrelated bullet\n"

	result := Parse(input, Options{Markdown: MarkdownFields{
		Title:    "report_type",
		Findings: "detailed_findings",
		Bullets:  "key_findings",
		Concerns: "abnormalities",
		Digest:   "reference_data_for_next_role",
	}})

	require.Equal(t, StrategyMarkdown, result.Strategy)
	assert.Equal(t, "Blood Report Analysis", result.Object["report_type"])
	assert.Equal(t, "Hemoglobin is low.", result.Object["detailed_findings"])
	assert.Equal(t, []any{"Hemoglobin 9.5 g/dL", "MCV low"}, result.Object["key_findings"])
	assert.Equal(t, []any{"Anemia suspected"}, result.Object["abnormalities"])

	digest, ok := result.Object["reference_data_for_next_role"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Blood Report Analysis", digest["summary"])
	assert.Contains(t, digest["raw_text"], "Anemia suspected")
}

func TestParseFallbackTruncatesRawText(t *testing.T) {
	raw := strings.Repeat("x", 5000)
	result := Parse(raw, Options{MaxRawLen: 1000})
	require.Equal(t, StrategyFallback, result.Strategy)

	text, ok := result.Object["raw_text"].(string)
	require.True(t, ok)
	assert.Equal(t, 1001, len([]rune(text)))
	assert.True(t, strings.HasSuffix(text, "…"))
}

func TestParseFallbackUsesPlaceholder(t *testing.T) {
	result := Parse("I'm sorry, I cannot help with that.", Options{
		Placeholder: func(raw string) map[string]any {
			return map[string]any{
				"findings": []any{"Could not parse"},
				"digest":   map[string]any{"raw_text": raw},
			}
		},
	})
	require.Equal(t, StrategyFallback, result.Strategy)
	assert.Equal(t, []any{"Could not parse"}, result.Object["findings"])
	digest := result.Object["digest"].(map[string]any)
	assert.Equal(t, "I'm sorry, I cannot help with that.", digest["raw_text"])
}

func TestObjectSpansOrdering(t *testing.T) {
	spans := objectSpans(`{"a":1} {"bb": {"c": 2}} {}`)
	require.Len(t, spans, 3)
	assert.Equal(t, `{"bb": {"c": 2}}`, spans[0])
}
