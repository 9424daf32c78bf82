package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "localhost:9000", Bucket: "b", Prefix: "/generations/"})
	require.NoError(t, err)

	assert.Equal(t, "generations/p-1/character_00001_.png", c.ObjectKey("p-1", "character_00001_.png"))
	assert.Equal(t, "generations/p-1/x.png", c.ObjectKey("p-1", "sub/x.png"))
	assert.Equal(t, "b", c.Bucket())
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeFor("a.png"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("a.JPG"))
	assert.Equal(t, "image/webp", ContentTypeFor("a.webp"))
	assert.Equal(t, "image/png", ContentTypeFor("a"))
}
