package prompt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSystemPrompt(t *testing.T) {
	out, err := Render(DefaultSystemPrompt, SystemVars("English", "French", []string{"𐑣", "⟦x⟧"}))
	require.NoError(t, err)

	want := "You are an expert translator. Please translate English into French. " +
		"The user will submit sentences or paragraphs with some contexts; please only translate the intended text into French.\n\n" +
		"- If there are symbols 𐑣 , ⟦x⟧, keep the symbol intact on the result text in the correct position.\n" +
		"- Do not give any alternative translation or including any previous context, notes or discussion."
	assert.Equal(t, want, out)
}

func TestDefaultUserPrompt(t *testing.T) {
	t.Run("first chunk has no context section", func(t *testing.T) {
		out, err := Render(DefaultUserPrompt, UserVars(nil, "Hello world."))
		require.NoError(t, err)
		assert.Equal(t, "Hello world.", out)
	})

	t.Run("previous chunks become context", func(t *testing.T) {
		out, err := Render(DefaultUserPrompt, UserVars([]string{"A.", "B."}, "C."))
		require.NoError(t, err)
		assert.Equal(t, "Given the previous context:\n\nA.\n\nB.\n\nOnly translate the following text:\n\nC.", out)
	})

	t.Run("context is cut to the last eight", func(t *testing.T) {
		var history []string
		for i := 1; i <= 10; i++ {
			history = append(history, fmt.Sprintf("c%d", i))
		}

		out, err := Render(DefaultUserPrompt, UserVars(history, "c11"))
		require.NoError(t, err)
		assert.NotContains(t, out, "c1\n")
		assert.NotContains(t, out, "c2\n")
		assert.Contains(t, out, "c3\n\nc4\n\nc5\n\nc6\n\nc7\n\nc8\n\nc9\n\nc10\n\nOnly translate")
	})

	t.Run("special tokens pass through", func(t *testing.T) {
		out, err := Render(DefaultUserPrompt, UserVars([]string{"x 𐑣 y"}, "𐑣 z 𐑣"))
		require.NoError(t, err)
		assert.Contains(t, out, "x 𐑣 y")
		assert.Contains(t, out, "\n\n𐑣 z 𐑣")
	})
}

func TestSystemVars_NilTokens(t *testing.T) {
	out, err := Render("[{{ special_tokens | join(',') }}]", SystemVars("a", "b", nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}
