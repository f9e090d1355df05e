package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/config"
)

const samplePatch = `--- a/app/main.py
+++ b/app/main.py
@@ -1,3 +1,3 @@
 def f(a, b):
-    return a - b
+    return a + b
`

func sensitivePatterns() []string {
	cfg := config.ToolsConfig{}
	cfg.SetDefaults()
	return cfg.SensitivePatterns
}

func TestExtractPatchFromFence(t *testing.T) {
	reply := "Here is the fix:\n```diff\n" + samplePatch + "```\nDone."
	patch := ExtractPatch(reply)
	assert.Contains(t, patch, "+++ b/app/main.py")
	assert.NotContains(t, patch, "Here is the fix")
	assert.NotContains(t, patch, "Done.")
}

func TestExtractPatchFromBareDiff(t *testing.T) {
	reply := "Apply this:\n" + samplePatch
	patch := ExtractPatch(reply)
	assert.True(t, strings.HasPrefix(patch, "--- a/app/main.py"))
}

func TestExtractPatchNoDiff(t *testing.T) {
	assert.Empty(t, ExtractPatch("I could not produce a patch."))
}

func TestPatchPaths(t *testing.T) {
	paths := PatchPaths(samplePatch)
	assert.Equal(t, []string{"app/main.py"}, paths)
}

func TestCheckPatchAccepts(t *testing.T) {
	err := CheckPatch(samplePatch, 64<<10, sensitivePatterns(), nil)
	assert.NoError(t, err)
}

func TestCheckPatchSensitivePath(t *testing.T) {
	patch := strings.ReplaceAll(samplePatch, "app/main.py", ".env")
	err := CheckPatch(patch, 64<<10, sensitivePatterns(), nil)
	require.Error(t, err)

	var ge *GuardrailError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ReasonSensitivePath, ge.Reason)
}

func TestCheckPatchSizeCap(t *testing.T) {
	big := samplePatch + strings.Repeat("+padding\n", 1000)
	err := CheckPatch(big, 256, sensitivePatterns(), nil)
	require.Error(t, err)

	var ge *GuardrailError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ReasonPatchTooLarge, ge.Reason)
}

func TestCheckPatchScope(t *testing.T) {
	err := CheckPatch(samplePatch, 64<<10, sensitivePatterns(), []string{"app/main.py"})
	assert.NoError(t, err)

	err = CheckPatch(samplePatch, 64<<10, sensitivePatterns(), []string{"lib/other.py"})
	require.Error(t, err)
	var ge *GuardrailError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ReasonOutOfScope, ge.Reason)
}

func TestCheckPatchEscapingPath(t *testing.T) {
	patch := strings.ReplaceAll(samplePatch, "app/main.py", "../outside.py")
	err := CheckPatch(patch, 64<<10, sensitivePatterns(), nil)
	require.Error(t, err)
	var ge *GuardrailError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ReasonOutOfScope, ge.Reason)
}

func TestCheckPatchEmpty(t *testing.T) {
	err := CheckPatch("   ", 64<<10, sensitivePatterns(), nil)
	require.Error(t, err)
	var ge *GuardrailError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ReasonEmptyPatch, ge.Reason)
}

func TestParseScope(t *testing.T) {
	diagnosis := "The bug is in the adder.\n\nFiles:\n- app/main.py\n- app/util.py\n"
	assert.Equal(t, []string{"app/main.py", "app/util.py"}, parseScope(diagnosis))

	assert.Nil(t, parseScope("no file section here"))
}

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	header := SignBody("secret", body)

	assert.True(t, VerifySignature("secret", body, header))
	assert.False(t, VerifySignature("secret", body, "sha256=deadbeef"))
	assert.False(t, VerifySignature("other", body, header))
	assert.False(t, VerifySignature("", body, header))
	assert.False(t, VerifySignature("secret", body, ""))
}
