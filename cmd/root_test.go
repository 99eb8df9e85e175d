package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"book", "history", "keys", "session", "version"}, names)

	book, _, err := root.Find([]string{"book"})
	require.NoError(t, err)
	for _, f := range []string{"country", "cities", "from", "to", "migrate"} {
		assert.NotNil(t, book.Flags().Lookup(f), f)
	}

	sess, _, err := root.Find([]string{"session", "clear"})
	require.NoError(t, err)
	assert.Equal(t, "clear", sess.Name())
}
