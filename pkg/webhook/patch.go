package webhook

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/maestro-dev/maestro/pkg/config"
)

// Guardrail rejection reasons, recorded verbatim in the audit log.
const (
	ReasonSensitivePath = "sensitive_path"
	ReasonPatchTooLarge = "patch_too_large"
	ReasonOutOfScope    = "out_of_scope"
	ReasonEmptyPatch    = "empty_patch"
)

// GuardrailError vetoes a proposed patch before anything is applied.
type GuardrailError struct {
	Reason string
	Detail string
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("patch rejected (%s): %s", e.Reason, e.Detail)
}

var diffFileHeader = regexp.MustCompile(`(?m)^(?:---|\+\+\+) (?:[ab]/)?(\S+)`)

// ExtractPatch pulls a unified diff out of a model reply: a fenced
// ```diff block when present, otherwise the text from the first diff
// header onward.
func ExtractPatch(reply string) string {
	if start := strings.Index(reply, "```diff"); start >= 0 {
		rest := reply[start+len("```diff"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	for _, marker := range []string{"diff --git ", "--- "} {
		if idx := strings.Index(reply, marker); idx >= 0 {
			return strings.TrimSpace(reply[idx:])
		}
	}
	return ""
}

// PatchPaths lists the file paths a unified diff touches.
func PatchPaths(patch string) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, match := range diffFileHeader.FindAllStringSubmatch(patch, -1) {
		path := match[1]
		if path == "/dev/null" || seen[path] {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}
	return paths
}

// CheckPatch applies the guardrail policy: the patch must be
// non-empty, within the size cap, confined to the checkout, clear of
// the sensitive set, and inside the declared scope when one exists.
func CheckPatch(patch string, maxBytes int, sensitive []string, scope []string) error {
	if strings.TrimSpace(patch) == "" {
		return &GuardrailError{Reason: ReasonEmptyPatch, Detail: "no unified diff found in reply"}
	}
	if len(patch) > maxBytes {
		return &GuardrailError{
			Reason: ReasonPatchTooLarge,
			Detail: fmt.Sprintf("%d bytes exceeds the %d byte cap", len(patch), maxBytes),
		}
	}

	paths := PatchPaths(patch)
	if len(paths) == 0 {
		return &GuardrailError{Reason: ReasonEmptyPatch, Detail: "diff declares no file paths"}
	}

	for _, path := range paths {
		if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
			return &GuardrailError{Reason: ReasonOutOfScope, Detail: "path escapes the checkout: " + path}
		}
		if config.MatchAnyPattern(sensitive, path) {
			return &GuardrailError{Reason: ReasonSensitivePath, Detail: path}
		}
		if len(scope) > 0 && !inScope(path, scope) {
			return &GuardrailError{Reason: ReasonOutOfScope, Detail: path}
		}
	}
	return nil
}

func inScope(path string, scope []string) bool {
	for _, s := range scope {
		if path == s || strings.HasPrefix(path, strings.TrimSuffix(s, "/")+"/") {
			return true
		}
	}
	return false
}
