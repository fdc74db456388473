package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsRender(t *testing.T) {
	t.Parallel()

	article := "<html><body><article>" + strings.Repeat("<p>plain prose</p>", 200) + "</article></body></html>"
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"empty", "", true},
		{"whitespace", " \n\t", true},
		{"next shell", `<div id="__next"></div>`, true},
		{"uppercase marker", `<DIV ID="ROOT"></DIV>`, true},
		{"angular", `<app-root ng-version="17.0.0"></app-root>`, true},
		{"script heavy small page", `<html><script>var a=1;</script><p>t</p></html>`, true},
		{"unterminated script", `<html><p>x</p><script>for(;;){`, true},
		{"static article", article, false},
		{"small static page", `<html><body><p>hello there, reader</p></body></html>`, false},
	}

	h := NewHeuristic(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.NeedsRender([]byte(tt.body)))
		})
	}
}

func TestSmallBodyThreshold(t *testing.T) {
	t.Parallel()

	body := "<script>" + strings.Repeat("x", 100) + "</script>" + strings.Repeat("<p>text</p>", 10)
	require.True(t, NewHeuristic(0).NeedsRender([]byte(body)))
	require.False(t, NewHeuristic(10).NeedsRender([]byte(body)))
}

func TestScriptShare(t *testing.T) {
	t.Parallel()

	require.Zero(t, scriptShare(nil))
	require.Zero(t, scriptShare([]byte("<p>none</p>")))
	require.Equal(t, 100, scriptShare([]byte("<script>a</script>")))
	require.Equal(t, 50, scriptShare([]byte("<script></script>xxxxxxxxxxxxxxxxx")))
}
