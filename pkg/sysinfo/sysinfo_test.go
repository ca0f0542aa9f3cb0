package sysinfo

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOSRelease(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "os-release")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectOS(t *testing.T) {
	path := writeOSRelease(t, `NAME="Ubuntu"
VERSION="22.04.3 LTS (Jammy Jellyfish)"
ID=ubuntu
ID_LIKE=debian
PRETTY_NAME="Ubuntu 22.04.3 LTS"
VERSION_ID="22.04"
HOME_URL="https://www.ubuntu.com/"
`)

	env, err := DetectOS(path)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", env.OS)
	assert.Equal(t, "22.04", env.Version)
	assert.Equal(t, "Ubuntu 22.04.3 LTS", env.Pretty)
	assert.Equal(t, "apt-get", env.PkgTool)
	assert.Equal(t, runtime.GOARCH, env.Arch)
	assert.True(t, env.Supported())
}

func TestDetectOS_Defensive(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantOS  string
		wantErr bool
	}{
		{
			name:    "duplicate keys take last occurrence",
			content: "ID=debian\nID=ubuntu\n",
			wantOS:  "ubuntu",
		},
		{
			name:    "comments and blank lines skipped",
			content: "# header\n\nID=debian\n",
			wantOS:  "debian",
		},
		{
			name:    "single quoted values",
			content: "ID='rocky'\n",
			wantOS:  "rocky",
		},
		{
			name:    "uppercase id normalized",
			content: "ID=Ubuntu\n",
			wantOS:  "ubuntu",
		},
		{
			name:    "embedded command text stays data",
			content: "ID=ubuntu\nPRETTY_NAME=\"$(reboot)\"\n",
			wantOS:  "ubuntu",
		},
		{
			name:    "no id field",
			content: "NAME=\"Something\"\n",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := DetectOS(writeOSRelease(t, tc.content))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantOS, env.OS)
		})
	}
}

func TestDetectOS_Missing(t *testing.T) {
	_, err := DetectOS(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestPkgToolFor(t *testing.T) {
	assert.Equal(t, "apt-get", pkgToolFor("ubuntu"))
	assert.Equal(t, "apt-get", pkgToolFor("debian"))
	assert.NotEmpty(t, pkgToolFor("rhel"))   // dnf or yum depending on host
	assert.NotEmpty(t, pkgToolFor("fedora")) // dnf or yum depending on host
	assert.Empty(t, pkgToolFor("gentoo"))
	assert.Empty(t, pkgToolFor(""))
}

func TestEnv_Supported(t *testing.T) {
	assert.False(t, Env{}.Supported())
	assert.True(t, Env{PkgTool: "apt-get"}.Supported())
}
