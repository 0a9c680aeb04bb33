package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnIDIsImmutableOnceSet(t *testing.T) {
	c := New(nil, ModeDownload)
	assert.Zero(t, c.ConnID())

	c.SetConnID(7)
	assert.Equal(t, uint32(7), c.ConnID())

	c.SetConnID(99) // must not override the first id
	assert.Equal(t, uint32(7), c.ConnID())
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(nil, ModeUpload)
	assert.False(t, c.Closed())
	c.Close()
	c.Close()
	assert.True(t, c.Closed())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "DOWNLOAD", ModeDownload.String())
	assert.Equal(t, "UPLOAD", ModeUpload.String())
}
