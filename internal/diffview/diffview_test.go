package diffview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/src/Calc.cs b/src/Calc.cs
index 1111111..2222222 100644
--- a/src/Calc.cs
+++ b/src/Calc.cs
@@ -1,3 +1,4 @@
 class Calc {
-  int Add() => 0;
+  int Add() => 1;
+  int Sub() => 2;
 }
`

func TestStripHeaders(t *testing.T) {
	out := StripHeaders(sampleDiff)
	assert.NotContains(t, out, "diff --git")
	assert.NotContains(t, out, "index 1111111")
	assert.Contains(t, out, " class Calc {")
	assert.True(t, strings.HasPrefix(out, "--- a/src/Calc.cs"))
}

func TestChangedLines(t *testing.T) {
	want := strings.Join([]string{
		"--- a/src/Calc.cs",
		"+++ b/src/Calc.cs",
		"-  int Add() => 0;",
		"+  int Add() => 1;",
		"+  int Sub() => 2;",
	}, "\n")
	assert.Equal(t, want, ChangedLines(sampleDiff))
	assert.Empty(t, ChangedLines(""))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, LineAdded, Classify("+x"))
	assert.Equal(t, LineRemoved, Classify("-x"))
	assert.Equal(t, LineContext, Classify(" x"))
	assert.Equal(t, LineContext, Classify("@@ -1 +1 @@"))
}

func TestRender_DropsHeadersKeepsBody(t *testing.T) {
	out := Render(sampleDiff)
	assert.NotContains(t, out, "diff --git")
	assert.NotContains(t, out, "index 1111111")
	assert.Contains(t, out, "+  int Sub() => 2;")
	assert.Contains(t, out, "-  int Add() => 0;")
	assert.Contains(t, out, "class Calc {")
}

func TestSummarize(t *testing.T) {
	stats, err := Summarize(sampleDiff)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, FileStat{Path: "src/Calc.cs", Added: 2, Deleted: 1, Hunks: 1}, stats[0])
	assert.Equal(t, "src/Calc.cs (+2 -1, 1 hunks)", stats[0].String())

	empty, err := Summarize("  \n")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCleanCode(t *testing.T) {
	in := "```csharp\n[Fact]\npublic void Adds() {}\n```\n"
	assert.Equal(t, "[Fact]\npublic void Adds() {}", CleanCode(in))
	assert.Equal(t, "plain", CleanCode("  plain \n"))
}
