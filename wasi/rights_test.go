package wasi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupRight(t *testing.T) {
	r, ok := LookupRight("fd_read")
	assert.True(t, ok)
	assert.Equal(t, RightsFdRead, r)

	r, ok = LookupRight("sock_shutdown")
	assert.True(t, ok)
	assert.Equal(t, RightsSockShutdown, r)

	r, ok = LookupRight("ro")
	assert.True(t, ok)
	assert.Equal(t, ReadOnlyRights, r)

	_, ok = LookupRight("fd_frobnicate")
	assert.False(t, ok)
}

func TestRightsString(t *testing.T) {
	assert.Equal(t, "0", Rights(0).String())
	assert.Equal(t, "fd_read|fd_write", (RightsFdRead | RightsFdWrite).String())
	assert.Equal(t, "path_open|0x40000000000", (RightsPathOpen | 1<<42).String())
}

func TestDefaultRightsByType(t *testing.T) {
	base, inheriting := defaultRights(FileTypeCharacterDevice, true)
	assert.Equal(t, TTYRights, base)
	assert.Zero(t, inheriting)

	base, _ = defaultRights(FileTypeCharacterDevice, false)
	assert.Equal(t, AllRights, base)

	base, inheriting = defaultRights(FileTypeRegularFile, false)
	assert.Equal(t, FileRights, base)
	assert.Zero(t, inheriting)

	base, inheriting = defaultRights(FileTypeSocketStream, false)
	assert.Equal(t, SocketRights, base)
	assert.Equal(t, AllRights, inheriting)

	base, inheriting = defaultRights(FileTypeUnknown, false)
	assert.Zero(t, base)
	assert.Zero(t, inheriting)
}
