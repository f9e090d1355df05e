package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainerWorkDirMapping(t *testing.T) {
	workspace := filepath.Join("/", "srv", "checkout")

	cases := []struct {
		name string
		dir  string
		want string
	}{
		{"empty defaults to mount", "", "/workspace"},
		{"workspace root", workspace, "/workspace"},
		{"subdirectory", filepath.Join(workspace, "app", "sub"), "/workspace/app/sub"},
		{"outside falls back", filepath.Join("/", "tmp", "elsewhere"), "/workspace"},
		{"parent falls back", filepath.Dir(workspace), "/workspace"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, containerWorkDir(workspace, tc.dir))
		})
	}
}
